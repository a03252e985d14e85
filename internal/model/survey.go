package model

import "time"

// EvaluationType decides how a survey's answers are addressed
type EvaluationType string

const (
	EvaluationStandard EvaluationType = "standard"
	EvaluationTabular  EvaluationType = "tabular"
)

// Survey is the reference definition a center evaluates against.
// Questions hang off survey -> sections -> domains.
type Survey struct {
	ID             string         `json:"id" bson:"_id"`
	Title          string         `json:"title" bson:"title"`
	EvaluationType EvaluationType `json:"evaluation_type" bson:"evaluationType"`
	Sections       []Section      `json:"sections" bson:"sections"`
	CreatedAt      time.Time      `json:"created_at" bson:"createdAt"`
}

// Section groups domains of a survey
type Section struct {
	ID      int64    `json:"id" bson:"id"`
	Name    string   `json:"name" bson:"name"`
	Domains []Domain `json:"domains" bson:"domains"`
}

// Domain groups questions within a section
type Domain struct {
	ID        int64      `json:"id" bson:"id"`
	Name      string     `json:"name" bson:"name"`
	Questions []Question `json:"questions" bson:"questions"`
}

// IsTabular reports whether answers use composite keys
func (s *Survey) IsTabular() bool {
	return s.EvaluationType == EvaluationTabular
}

// QuestionIDs flattens the domain tree into the set of addressable numeric questions
func (s *Survey) QuestionIDs() map[int64]struct{} {
	ids := make(map[int64]struct{})
	for _, sec := range s.Sections {
		for _, dom := range sec.Domains {
			for _, q := range dom.Questions {
				ids[q.ID] = struct{}{}
			}
		}
	}
	return ids
}

// Medication is referenced by the entity part of tabular keys
type Medication struct {
	ID   int64  `json:"id" bson:"_id"`
	Name string `json:"name" bson:"name"`
}
