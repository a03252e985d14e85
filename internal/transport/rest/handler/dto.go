package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"healthsurvey/internal/model"
	"healthsurvey/internal/service"
)

// AnswerRef is a question_id as sent by clients: a JSON number or a string
// ("12", "med_3_field_7", "3_7")
type AnswerRef string

func (a *AnswerRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = AnswerRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("question_id must be a number or a string")
	}
	*a = AnswerRef(n.String())
	return nil
}

// AnswerValue accepts text, number or boolean answers and keeps their textual form
type AnswerValue string

func (v *AnswerValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*v = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = AnswerValue(s)
	case bytes.Equal(b, []byte("true")), bytes.Equal(b, []byte("false")):
		*v = AnswerValue(b)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return errors.New("answer must be a string, number or boolean")
		}
		*v = AnswerValue(n.String())
	}
	return nil
}

type answerEntryRequest struct {
	QuestionID AnswerRef   `json:"question_id"`
	Answer     AnswerValue `json:"answer"`
	Score      *float64    `json:"score"`
}

type answersRequest struct {
	Answers []answerEntryRequest `json:"answers"`
}

func (req answersRequest) entries() []service.AnswerEntry {
	out := make([]service.AnswerEntry, 0, len(req.Answers))
	for _, a := range req.Answers {
		e := service.AnswerEntry{QuestionID: string(a.QuestionID), Answer: string(a.Answer)}
		if a.Score != nil {
			e.Score = *a.Score
		}
		out = append(out, e)
	}
	return out
}

type draftAnswerResponse struct {
	QuestionID interface{} `json:"question_id"`
	Answer     string      `json:"answer"`
	Score      float64     `json:"score"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

type draftResponse struct {
	ResponseID   string                `json:"response_id"`
	Status       model.ResponseStatus  `json:"status"`
	DraftAnswers []draftAnswerResponse `json:"draft_answers"`
}

func newDraftResponse(snap *service.DraftSnapshot) draftResponse {
	out := draftResponse{
		ResponseID:   snap.ResponseID,
		Status:       snap.Status,
		DraftAnswers: make([]draftAnswerResponse, 0, len(snap.Answers)),
	}
	for _, a := range snap.Answers {
		out.DraftAnswers = append(out.DraftAnswers, draftAnswerResponse{
			QuestionID: wireKey(a.Key),
			Answer:     a.Answer,
			Score:      a.Score,
			UpdatedAt:  a.UpdatedAt,
		})
	}
	return out
}

// wireKey renders scalar ids as numbers and tabular keys in the form they were sent
func wireKey(k model.AnswerKey) interface{} {
	if k.IsScalar() {
		return k.QuestionID
	}
	return k.String()
}

type progressResponse struct {
	ResponseID           string               `json:"response_id"`
	CompletionPercentage float64              `json:"completion_percentage"`
	Status               model.ResponseStatus `json:"status"`
	CanBeModified        bool                 `json:"can_be_modified"`
	Answered             int                  `json:"answered"`
	Total                int                  `json:"total"`
	Statistics           model.AnswerStats    `json:"statistics"`
}

func newProgressResponse(p *service.Progress) progressResponse {
	return progressResponse{
		ResponseID:           p.ResponseID,
		CompletionPercentage: p.CompletionPercentage,
		Status:               p.Status,
		CanBeModified:        p.CanBeModified,
		Answered:             p.Answered,
		Total:                p.Total,
		Statistics:           p.Stats,
	}
}
