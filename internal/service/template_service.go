// internal/service/template_service.go
package service

import (
	"strings"
)

// RenderTemplate replaces {{key}} placeholders with values from data.
// Placeholders without a matching key are left as literal text.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{{"+k+"}}", v)
	}
	return result
}

// Context keys available to automation templates.
const (
	CtxLeadName      = "lead_nome"
	CtxLeadPhone     = "lead_telefone"
	CtxLeadID        = "lead_id"
	CtxPreviousStage = "etapa_anterior"
	CtxNewStage      = "etapa_nova"
)
