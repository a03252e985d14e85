package model

import "time"

// Answer is a scalar answer addressed by a numeric question id.
// Draft and final share one row per (response, question).
type Answer struct {
	ID         string    `json:"id" bson:"_id"`
	ResponseID string    `json:"response_id" bson:"responseId"`
	QuestionID int64     `json:"question_id" bson:"questionId"`
	Text       string    `json:"answer" bson:"text"`
	Score      float64   `json:"score" bson:"score"`
	IsDraft    bool      `json:"is_draft" bson:"isDraft"`
	UpdatedAt  time.Time `json:"updated_at" bson:"updatedAt"`
}

// TabularAnswer is addressed by a composite key such as med_12_field_3.
// Draft and final rows for the same key are stored separately.
type TabularAnswer struct {
	ID          string    `json:"id" bson:"_id"`
	ResponseID  string    `json:"response_id" bson:"responseId"`
	QuestionKey string    `json:"question_id" bson:"questionKey"`
	Value       string    `json:"answer" bson:"answerValue"`
	Score       float64   `json:"score" bson:"score"`
	IsDraft     bool      `json:"is_draft" bson:"isDraft"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updatedAt"`
}

// ScalarInput is one scalar answer to be written
type ScalarInput struct {
	QuestionID int64
	Text       string
	Score      float64
}

// TabularInput is one tabular answer to be written
type TabularInput struct {
	QuestionKey string
	Value       string
	Score       float64
}

// AnswerCounts summarises one answer shape of a response
type AnswerCounts struct {
	Total    int     `json:"total"`
	Draft    int     `json:"draft"`
	Final    int     `json:"final"`
	ScoreSum float64 `json:"score_sum"`
	// FinalScoreSum only counts rows that are no longer drafts
	FinalScoreSum float64 `json:"final_score_sum"`
}

// Add folds a single row into the counts
func (c *AnswerCounts) Add(isDraft bool, score float64) {
	c.Total++
	if isDraft {
		c.Draft++
	} else {
		c.Final++
		c.FinalScoreSum += score
	}
	c.ScoreSum += score
}

// AnswerStats holds scalar and tabular counts for a response
type AnswerStats struct {
	Scalar  AnswerCounts `json:"scalar"`
	Tabular AnswerCounts `json:"tabular"`
}
