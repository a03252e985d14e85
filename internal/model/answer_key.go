package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// KeyKind tells scalar and tabular answer addresses apart
type KeyKind int

const (
	KeyScalar KeyKind = iota + 1
	KeyTabular
)

var (
	scalarPattern    = regexp.MustCompile(`^[1-9]\d*$`)
	medFieldPattern  = regexp.MustCompile(`^med_(\d+)_field_(\d+)$`)
	shorthandPattern = regexp.MustCompile(`^(\d+)_(\d+)$`)

	ErrInvalidAnswerKey = errors.New("invalid question id format")
)

// AnswerKey is the parsed form of a wire question_id.
// Scalar keys carry QuestionID; tabular keys carry EntityID (medication) and FieldID.
type AnswerKey struct {
	Kind       KeyKind
	QuestionID int64
	EntityID   int64
	FieldID    int64
	// Shorthand is set for the legacy "<id>_<id>" tabular form so String() round-trips it
	Shorthand bool
}

// ScalarKey builds a key for a numeric question
func ScalarKey(questionID int64) AnswerKey {
	return AnswerKey{Kind: KeyScalar, QuestionID: questionID}
}

// TabularKey builds a med_<entity>_field_<field> key
func TabularKey(entityID, fieldID int64) AnswerKey {
	return AnswerKey{Kind: KeyTabular, EntityID: entityID, FieldID: fieldID}
}

// ParseAnswerKey accepts "12", "med_3_field_7" or "3_7". Scalar ids are plain decimal digits
// without sign or leading zeros.
func ParseAnswerKey(raw string) (AnswerKey, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return AnswerKey{}, ErrInvalidAnswerKey
	}
	if scalarPattern.MatchString(s) {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return AnswerKey{}, fmt.Errorf("%w: %q", ErrInvalidAnswerKey, raw)
		}
		return ScalarKey(id), nil
	}
	if m := medFieldPattern.FindStringSubmatch(s); m != nil {
		return tabularFromMatch(m, false, raw)
	}
	if m := shorthandPattern.FindStringSubmatch(s); m != nil {
		return tabularFromMatch(m, true, raw)
	}
	return AnswerKey{}, fmt.Errorf("%w: %q", ErrInvalidAnswerKey, raw)
}

func tabularFromMatch(m []string, shorthand bool, raw string) (AnswerKey, error) {
	entity, err1 := strconv.ParseInt(m[1], 10, 64)
	field, err2 := strconv.ParseInt(m[2], 10, 64)
	if err1 != nil || err2 != nil {
		return AnswerKey{}, fmt.Errorf("%w: %q", ErrInvalidAnswerKey, raw)
	}
	return AnswerKey{Kind: KeyTabular, EntityID: entity, FieldID: field, Shorthand: shorthand}, nil
}

// IsScalar reports whether the key addresses a numeric question
func (k AnswerKey) IsScalar() bool { return k.Kind == KeyScalar }

// IsTabular reports whether the key addresses a tabular cell
func (k AnswerKey) IsTabular() bool { return k.Kind == KeyTabular }

// Canonical drops the shorthand flag so both tabular spellings address the same stored row
func (k AnswerKey) Canonical() AnswerKey {
	k.Shorthand = false
	return k
}

// String formats the key back into its wire shape
func (k AnswerKey) String() string {
	switch k.Kind {
	case KeyScalar:
		return strconv.FormatInt(k.QuestionID, 10)
	case KeyTabular:
		if k.Shorthand {
			return fmt.Sprintf("%d_%d", k.EntityID, k.FieldID)
		}
		return fmt.Sprintf("med_%d_field_%d", k.EntityID, k.FieldID)
	}
	return ""
}
