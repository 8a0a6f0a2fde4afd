package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/leadpilot/crm-automation/internal/errors"
	"github.com/leadpilot/crm-automation/internal/model"
	"github.com/leadpilot/crm-automation/internal/repository"
	"github.com/leadpilot/crm-automation/internal/service"
)

// --- Rule repository fake ---

type memRuleRepo struct {
	mu    sync.Mutex
	seq   int
	rules map[int]*model.AutomationRule
}

func newMemRuleRepo() *memRuleRepo {
	return &memRuleRepo{rules: map[int]*model.AutomationRule{}}
}

func (m *memRuleRepo) Create(_ context.Context, r *model.AutomationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	r.ID = m.seq
	r.CreatedAt = time.Now()
	cp := *r
	m.rules[r.ID] = &cp
	return nil
}

func (m *memRuleRepo) Update(_ context.Context, r *model.AutomationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rules[r.ID] = &cp
	return nil
}

func (m *memRuleRepo) GetByID(_ context.Context, id int) (*model.AutomationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, appErrors.NewRuleNotFound(id)
	}
	cp := *r
	return &cp, nil
}

func (m *memRuleRepo) ListRules(_ context.Context, offset, limit, companyID int, status string) ([]*model.AutomationRule, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.AutomationRule{}
	for _, r := range m.rules {
		if r.DeletedAt != nil {
			continue
		}
		if companyID > 0 && r.CompanyID != companyID {
			continue
		}
		if status != "" && string(r.Status) != status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (m *memRuleRepo) UpdateStatus(_ context.Context, ruleID int, status model.RuleStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rules[ruleID]; ok {
		r.Status = status
	}
	return nil
}

func (m *memRuleRepo) SetActive(_ context.Context, ruleID int, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rules[ruleID]; ok {
		r.Active = active
		if active {
			r.Status = model.RuleStatusActive
		} else {
			r.Status = model.RuleStatusInactive
		}
	}
	return nil
}

func (m *memRuleRepo) SoftDelete(_ context.Context, ruleID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rules[ruleID]; ok {
		now := time.Now()
		r.DeletedAt = &now
		r.Active = false
	}
	return nil
}

func (m *memRuleRepo) FindActiveRules(_ context.Context, companyID int, kinds []model.EventKind, stageID int) ([]*model.AutomationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.AutomationRule{}
	for _, r := range m.rules {
		if r.CompanyID != companyID || !r.Active || r.DeletedAt != nil || r.Status == model.RuleStatusConfigError {
			continue
		}
		kindOK := false
		for _, k := range kinds {
			if r.EventKind == k {
				kindOK = true
			}
		}
		if !kindOK {
			continue
		}
		if r.StageID != nil && *r.StageID != stageID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ repository.AutomationRuleRepositoryInterface = (*memRuleRepo)(nil)

// --- Step repository fake ---

type memStepRepo struct {
	mu    sync.Mutex
	seq   int
	steps []*model.FollowUpStep
}

func newMemStepRepo() *memStepRepo { return &memStepRepo{} }

func (m *memStepRepo) Create(_ context.Context, s *model.FollowUpStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	s.ID = m.seq
	cp := *s
	m.steps = append(m.steps, &cp)
	return nil
}

func (m *memStepRepo) ListByRule(_ context.Context, ruleID int) ([]*model.FollowUpStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.FollowUpStep{}
	for _, s := range m.steps {
		if s.RuleID == ruleID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

func (m *memStepRepo) FindActiveSteps(_ context.Context, ruleIDs []int) ([]*model.FollowUpStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := map[int]bool{}
	for _, id := range ruleIDs {
		wanted[id] = true
	}
	out := []*model.FollowUpStep{}
	for _, s := range m.steps {
		if wanted[s.RuleID] && s.Active {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RuleID != out[j].RuleID {
			return out[i].RuleID < out[j].RuleID
		}
		return out[i].StepOrder < out[j].StepOrder
	})
	return out, nil
}

func (m *memStepRepo) SetActive(_ context.Context, stepID int, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.steps {
		if s.ID == stepID {
			s.Active = active
		}
	}
	return nil
}

var _ repository.FollowUpStepRepositoryInterface = (*memStepRepo)(nil)

// --- Scheduled job repository fake ---

type memJobRepo struct {
	mu          sync.Mutex
	seq         int
	jobs        map[int]*model.ScheduledJob
	ruleCompany map[int]int  // rule id -> company id, for the FindDue filter
	claimDenied map[int]bool // job ids whose claim a "concurrent run" already won
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{
		jobs:        map[int]*model.ScheduledJob{},
		ruleCompany: map[int]int{},
		claimDenied: map[int]bool{},
	}
}

func jobKey(ruleID, stepID, leadID int, eventRef string) string {
	return fmt.Sprintf("%d/%d/%d/%s", ruleID, stepID, leadID, eventRef)
}

func (m *memJobRepo) Upsert(_ context.Context, job *model.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := jobKey(job.RuleID, job.StepID, job.LeadID, job.EventRef)
	for _, existing := range m.jobs {
		if jobKey(existing.RuleID, existing.StepID, existing.LeadID, existing.EventRef) != key {
			continue
		}
		if existing.Status == model.JobStatusSent {
			return nil // delivered rows are never reset
		}
		existing.StageID = job.StageID
		existing.TemplateSnapshot = job.TemplateSnapshot
		existing.ContextSnapshot = job.ContextSnapshot
		existing.ScheduledAt = job.ScheduledAt
		existing.Status = model.JobStatusPending
		existing.Attempts = 0
		existing.LastError = ""
		existing.CancelReason = ""
		existing.SentAt = nil
		job.ID = existing.ID
		job.Status = model.JobStatusPending
		job.Attempts = 0
		return nil
	}
	m.seq++
	job.ID = m.seq
	job.Status = model.JobStatusPending
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobRepo) GetByID(_ context.Context, id int) (*model.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) FindDue(_ context.Context, companyID int, now time.Time, limit int) ([]*model.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.ScheduledJob{}
	for _, j := range m.jobs {
		if j.Status != model.JobStatusPending || j.ScheduledAt.After(now) {
			continue
		}
		if companyID != 0 && m.ruleCompany[j.RuleID] != companyID {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobRepo) Claim(_ context.Context, id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimDenied[id] {
		return false, nil
	}
	j, ok := m.jobs[id]
	if !ok || j.Status != model.JobStatusPending {
		return false, nil
	}
	j.Status = model.JobStatusProcessing
	return true, nil
}

func (m *memJobRepo) MarkSent(_ context.Context, id int, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.Status = model.JobStatusSent
		j.SentAt = &sentAt
		j.LastError = ""
	}
	return nil
}

func (m *memJobRepo) Reschedule(_ context.Context, id int, at time.Time, attempts int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.Status = model.JobStatusPending
		j.ScheduledAt = at
		j.Attempts = attempts
		j.LastError = lastError
	}
	return nil
}

func (m *memJobRepo) MarkFailed(_ context.Context, id, attempts int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.Status = model.JobStatusFailed
		j.Attempts = attempts
		j.LastError = lastError
	}
	return nil
}

func (m *memJobRepo) Cancel(_ context.Context, id int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		if j.Status == model.JobStatusPending || j.Status == model.JobStatusProcessing {
			j.Status = model.JobStatusCanceled
			j.CancelReason = reason
		}
	}
	return nil
}

func (m *memJobRepo) CancelPendingForStage(_ context.Context, leadID, stageID int, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, j := range m.jobs {
		if j.LeadID == leadID && j.StageID == stageID && j.Status == model.JobStatusPending {
			j.Status = model.JobStatusCanceled
			j.CancelReason = reason
			count++
		}
	}
	return count, nil
}

func (m *memJobRepo) CancelPendingForRule(_ context.Context, ruleID int, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, j := range m.jobs {
		if j.RuleID == ruleID && j.Status == model.JobStatusPending {
			j.Status = model.JobStatusCanceled
			j.CancelReason = reason
			count++
		}
	}
	return count, nil
}

func (m *memJobRepo) Stats(_ context.Context, companyID int) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := map[string]int{"pending": 0, "processing": 0, "sent": 0, "failed": 0, "canceled": 0, "sent_today": 0}
	for _, j := range m.jobs {
		if companyID != 0 && m.ruleCompany[j.RuleID] != companyID {
			continue
		}
		switch j.Status {
		case model.JobStatusPending:
			stats["pending"]++
		case model.JobStatusProcessing:
			stats["processing"]++
		case model.JobStatusSent:
			stats["sent"]++
			stats["sent_today"]++
		case model.JobStatusFailed:
			stats["failed"]++
		case model.JobStatusCanceled:
			stats["canceled"]++
		}
	}
	return stats, nil
}

// all returns the jobs sorted by id, for assertions.
func (m *memJobRepo) all() []*model.ScheduledJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.ScheduledJob{}
	for _, j := range m.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var _ repository.ScheduledJobRepositoryInterface = (*memJobRepo)(nil)

// --- Channel repository fake ---

type memChannelRepo struct {
	channels map[int]*model.ChannelInstance
}

func newMemChannelRepo() *memChannelRepo {
	return &memChannelRepo{channels: map[int]*model.ChannelInstance{}}
}

func (m *memChannelRepo) GetByID(_ context.Context, id, companyID int) (*model.ChannelInstance, error) {
	c, ok := m.channels[id]
	if !ok || c.CompanyID != companyID {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memChannelRepo) ListByCompany(_ context.Context, companyID int) ([]model.ChannelInstance, error) {
	out := []model.ChannelInstance{}
	for _, c := range m.channels {
		if c.CompanyID == companyID {
			out = append(out, *c)
		}
	}
	return out, nil
}

var _ repository.ChannelInstanceRepositoryInterface = (*memChannelRepo)(nil)

// --- Gateway fake ---

type sentMessage struct {
	InstanceKey string
	Phone       string
	Message     string
}

type fakeGateway struct {
	mu         sync.Mutex
	sent       []sentMessage
	failPhones map[string]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failPhones: map[string]error{}}
}

func (g *fakeGateway) Send(_ context.Context, instanceKey, phone, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.failPhones[phone]; ok {
		return err
	}
	g.sent = append(g.sent, sentMessage{InstanceKey: instanceKey, Phone: phone, Message: message})
	return nil
}

func (g *fakeGateway) sentMessages() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]sentMessage, len(g.sent))
	copy(out, g.sent)
	return out
}

// --- Test environment ---

type testEnv struct {
	rules    *memRuleRepo
	steps    *memStepRepo
	jobs     *memJobRepo
	channels *memChannelRepo
	gw       *fakeGateway
	now      time.Time

	automation *service.AutomationService
	dispatcher *service.DispatcherService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		rules:    newMemRuleRepo(),
		steps:    newMemStepRepo(),
		jobs:     newMemJobRepo(),
		channels: newMemChannelRepo(),
		gw:       newFakeGateway(),
		now:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	nowFn := func() time.Time { return env.now }
	env.automation = &service.AutomationService{
		Rules:    env.rules,
		Steps:    env.steps,
		Jobs:     env.jobs,
		Channels: env.channels,
		Gateway:  env.gw,
		Log:      zerolog.Nop(),
		Now:      nowFn,
	}
	env.dispatcher = &service.DispatcherService{
		Rules:    env.rules,
		Jobs:     env.jobs,
		Channels: env.channels,
		Gateway:  env.gw,
		Log:      zerolog.Nop(),
		Now:      nowFn,
	}
	return env
}

func (env *testEnv) addChannel(id, companyID int, key string) {
	env.channels.channels[id] = &model.ChannelInstance{
		ID: id, CompanyID: companyID, Name: fmt.Sprintf("channel-%d", id), InstanceKey: key, Active: true,
	}
}

func (env *testEnv) addRule(rule *model.AutomationRule) *model.AutomationRule {
	_ = env.rules.Create(context.Background(), rule)
	env.jobs.ruleCompany[rule.ID] = rule.CompanyID
	return rule
}

func (env *testEnv) addStep(ruleID, order, minutes int, template string) *model.FollowUpStep {
	step := &model.FollowUpStep{
		RuleID:          ruleID,
		StepOrder:       order,
		DelayText:       fmt.Sprintf("%dmin", minutes),
		DelayLabel:      fmt.Sprintf("%d minutos", minutes),
		DelayMinutes:    minutes,
		MessageTemplate: template,
		Active:          true,
	}
	_ = env.steps.Create(context.Background(), step)
	return step
}

func intPtr(v int) *int { return &v }
