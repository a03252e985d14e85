package model

// QuestionType defines how a question is answered
type QuestionType string

const (
	QuestionTypeText    QuestionType = "text"
	QuestionTypeNumber  QuestionType = "number"
	QuestionTypeBoolean QuestionType = "boolean"
)

// Question is a numeric-addressed question inside a domain
type Question struct {
	ID       int64        `json:"id" bson:"id"`
	Type     QuestionType `json:"type" bson:"type"`
	Prompt   string       `json:"prompt" bson:"prompt"`
	MaxScore float64      `json:"max_score" bson:"maxScore"`
}
