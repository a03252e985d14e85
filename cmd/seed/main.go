package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"healthsurvey/internal/app"
	"healthsurvey/internal/config"
	"healthsurvey/internal/model"
	"healthsurvey/internal/service"
)

func main() {
	userID := flag.String("user", "dev-user", "user id placed in the development token")
	ttl := flag.Duration("ttl", 24*time.Hour, "development token lifetime")
	flag.Parse()

	cfg := config.Load()
	logger := cfg.Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close(context.Background())

	surveys := []*model.Survey{
		{
			ID:             "primary-care-quality",
			Title:          "Primary Care Quality Evaluation",
			EvaluationType: model.EvaluationStandard,
			Sections: []model.Section{
				{
					ID:   1,
					Name: "Facilities",
					Domains: []model.Domain{
						{ID: 1, Name: "Infrastructure", Questions: []model.Question{
							{ID: 101, Type: model.QuestionTypeNumber, Prompt: "Condition of the waiting area (0-5)", MaxScore: 5},
							{ID: 102, Type: model.QuestionTypeBoolean, Prompt: "Accessible entrance available", MaxScore: 1},
							{ID: 103, Type: model.QuestionTypeNumber, Prompt: "Cleanliness of consultation rooms (0-5)", MaxScore: 5},
						}},
						{ID: 2, Name: "Equipment", Questions: []model.Question{
							{ID: 104, Type: model.QuestionTypeNumber, Prompt: "Working blood pressure monitors", MaxScore: 5},
							{ID: 105, Type: model.QuestionTypeBoolean, Prompt: "Emergency kit checked this month", MaxScore: 1},
						}},
					},
				},
				{
					ID:   2,
					Name: "Care",
					Domains: []model.Domain{
						{ID: 3, Name: "Patient experience", Questions: []model.Question{
							{ID: 106, Type: model.QuestionTypeNumber, Prompt: "Average waiting time score (0-5)", MaxScore: 5},
							{ID: 107, Type: model.QuestionTypeText, Prompt: "Most frequent patient complaint"},
							{ID: 108, Type: model.QuestionTypeNumber, Prompt: "Follow-up appointments kept (0-5)", MaxScore: 5},
						}},
					},
				},
			},
		},
		{
			ID:             "medication-stock",
			Title:          "Monthly Medication Stock",
			EvaluationType: model.EvaluationTabular,
		},
	}

	medications := []*model.Medication{
		{ID: 1, Name: "Amoxicillin 500mg"},
		{ID: 2, Name: "Paracetamol 500mg"},
		{ID: 3, Name: "Metformin 850mg"},
		{ID: 4, Name: "Salbutamol inhaler"},
		{ID: 5, Name: "Oral rehydration salts"},
	}

	for _, s := range surveys {
		if err := store.Catalog.SaveSurvey(ctx, s); err != nil {
			logger.Error("failed to save survey", "survey", s.ID, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded survey '%s' (%s)\n", s.Title, s.ID)
	}
	for _, m := range medications {
		if err := store.Catalog.SaveMedication(ctx, m); err != nil {
			logger.Error("failed to save medication", "medication", m.ID, "error", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Seeded %d medications\n", len(medications))

	token, err := service.NewAuthService(cfg.JWTSecret).IssueUserToken(*userID, *ttl)
	if err != nil {
		logger.Error("failed to issue token", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Development token for %s:\n%s\n", *userID, token)
}
