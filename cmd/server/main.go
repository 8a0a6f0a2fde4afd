// cmd/server/main.go
package main

import (
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/leadpilot/crm-automation/internal/controller"
	"github.com/leadpilot/crm-automation/internal/db"
	"github.com/leadpilot/crm-automation/internal/gateway"
	"github.com/leadpilot/crm-automation/internal/handler"
	"github.com/leadpilot/crm-automation/internal/logger"
	"github.com/leadpilot/crm-automation/internal/queue"
	"github.com/leadpilot/crm-automation/internal/repository"
	"github.com/leadpilot/crm-automation/internal/service"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on OS environment variables")
	}

	// Init DB
	db.Init()
	zlog := logger.New("automation-api")

	ruleRepo := &repository.AutomationRuleRepository{DB: db.DB}
	stepRepo := &repository.FollowUpStepRepository{DB: db.DB}
	jobRepo := &repository.ScheduledJobRepository{DB: db.DB}
	channelRepo := &repository.ChannelInstanceRepository{DB: db.DB}

	gw := gateway.NewHTTPGateway(os.Getenv("GATEWAY_BASE_URL"), os.Getenv("GATEWAY_API_KEY"))

	automationService := &service.AutomationService{
		Rules:    ruleRepo,
		Steps:    stepRepo,
		Jobs:     jobRepo,
		Channels: channelRepo,
		Gateway:  gw,
		Log:      zlog,
	}
	dispatcher := &service.DispatcherService{
		Rules:    ruleRepo,
		Jobs:     jobRepo,
		Channels: channelRepo,
		Gateway:  gw,
		Log:      zlog,
	}

	q := queue.NewInMemoryQueue(zlog)
	queue.StartStageChangeSubscriber(q, automationService)

	automationController := &controller.AutomationController{
		Rules:             ruleRepo,
		Steps:             stepRepo,
		AutomationService: automationService,
		Queue:             q,
	}
	jobHandler := &handler.JobHandler{
		Jobs:       jobRepo,
		Dispatcher: dispatcher,
	}

	r := chi.NewRouter()

	// Rule routes
	r.Post("/rules", automationController.CreateRule)
	r.Get("/rules", automationController.ListRules)
	r.Get("/rules/{id}", automationController.GetRule)
	r.Post("/rules/{id}/steps", automationController.AddStep)
	r.Post("/rules/{id}/deactivate", automationController.DeactivateRule)
	r.Delete("/rules/{id}", automationController.DeleteRule)

	// Event + job routes
	r.Post("/events/stage-change", automationController.StageChange)
	r.Get("/jobs/stats", jobHandler.StatsHandler)
	r.Get("/jobs/{id}", jobHandler.GetJobHandler)
	r.Post("/dispatch/run", jobHandler.RunDispatchHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Println("server running on :" + port)
	log.Fatal(http.ListenAndServe(":"+port, r))
}
