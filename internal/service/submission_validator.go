package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"healthsurvey/internal/model"
	"healthsurvey/internal/repository"

	"github.com/go-playground/validator/v10"
)

// AnswerEntry is one element of a draft or submission payload. QuestionID keeps the
// wire form: a numeric id, med_<id>_field_<id> or <id>_<id>.
type AnswerEntry struct {
	QuestionID string  `json:"question_id" validate:"required"`
	Answer     string  `json:"answer" validate:"max=20000"`
	Score      float64 `json:"score" validate:"gte=0"`
}

// ValidatedSubmission is a payload split by answer shape
type ValidatedSubmission struct {
	Scalar  []model.ScalarInput
	Tabular []model.TabularInput
	// Answered counts distinct numeric questions of the survey present in the payload
	Answered int
	Total    int
	// Stored drafts that fail the reference checks and must not be finalized
	RejectedScalar  []int64
	RejectedTabular []string
}

// SubmissionValidator checks a bulk submission before anything is written.
// Access checks short-circuit; data checks accumulate into one *ValidationError.
type SubmissionValidator struct {
	lifecycle        *ResponseLifecycle
	catalog          repository.CatalogRepo
	validate         *validator.Validate
	thresholdPercent int
}

func NewSubmissionValidator(lifecycle *ResponseLifecycle, catalog repository.CatalogRepo, thresholdPercent int) *SubmissionValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if thresholdPercent <= 0 {
		thresholdPercent = 30
	}
	return &SubmissionValidator{
		lifecycle:        lifecycle,
		catalog:          catalog,
		validate:         v,
		thresholdPercent: thresholdPercent,
	}
}

// Validate runs ownership, mutability, shape, duplicate, reference, completion and
// medication checks in that order. Stored drafts go through the reference and medication
// checks as well; the ones that fail are listed on the result rather than rejecting the payload.
func (v *SubmissionValidator) Validate(ctx context.Context, userID string, resp *model.SurveyResponse, entries []AnswerEntry) (*ValidatedSubmission, *model.Survey, error) {
	if err := CheckOwnership(resp, userID); err != nil {
		return nil, nil, err
	}
	if !v.lifecycle.CanBeModified(resp) {
		return nil, nil, ErrExpired
	}

	survey, err := v.lifecycle.SurveyFor(ctx, resp)
	if err != nil {
		return nil, nil, err
	}

	verr := NewValidationError()
	if len(entries) == 0 {
		verr.Add("answers", "At least one answer is required")
		return nil, survey, verr
	}

	keys := v.ParseEntries(entries, verr)
	checkDuplicates(entries, keys, verr)

	sub := &ValidatedSubmission{}
	questionIDs := survey.QuestionIDs()
	sub.Total = len(questionIDs)

	var unknown, medIDs []int64
	answered := make(map[int64]bool)
	for i, key := range keys {
		if key == nil {
			continue
		}
		e := entries[i]
		switch key.Kind {
		case model.KeyScalar:
			if _, ok := questionIDs[key.QuestionID]; !ok {
				unknown = append(unknown, key.QuestionID)
				continue
			}
			answered[key.QuestionID] = true
			sub.Scalar = append(sub.Scalar, model.ScalarInput{QuestionID: key.QuestionID, Text: e.Answer, Score: e.Score})
		case model.KeyTabular:
			medIDs = append(medIDs, key.EntityID)
			sub.Tabular = append(sub.Tabular, model.TabularInput{QuestionKey: key.Canonical().String(), Value: e.Answer, Score: e.Score})
		}
	}
	sub.Answered = len(answered)

	if len(unknown) > 0 {
		verr.Add("question_ids", "Unknown question IDs: %s", joinIDs(unknown))
	}

	v.checkCompletion(sub, verr)

	draftMeds, err := v.checkDrafts(ctx, resp.ID, questionIDs, sub)
	if err != nil {
		return nil, survey, err
	}

	if survey.IsTabular() && len(medIDs)+len(draftMeds) > 0 {
		ids := append([]int64(nil), medIDs...)
		for _, id := range draftMeds {
			ids = append(ids, id)
		}
		missing, err := v.catalog.MissingMedications(ctx, ids)
		if err != nil {
			return nil, survey, storageErr("check medications", err)
		}
		invalid := make(map[int64]bool, len(missing))
		for _, id := range missing {
			invalid[id] = true
		}
		for _, id := range uniqueIDs(medIDs) {
			if invalid[id] {
				verr.Add("medications", "Invalid medication ID: %d", id)
			}
		}
		for key, id := range draftMeds {
			if invalid[id] {
				sub.RejectedTabular = append(sub.RejectedTabular, key)
			}
		}
	}
	sort.Strings(sub.RejectedTabular)

	if err := verr.OrNil(); err != nil {
		return nil, survey, err
	}
	return sub, survey, nil
}

// checkDrafts loads the stored drafts a submission would finalize. Scalar drafts for
// questions outside the survey and unparseable tabular keys are rejected on sub; the
// returned map holds the medication id of every remaining tabular draft by stored key.
func (v *SubmissionValidator) checkDrafts(ctx context.Context, responseID string, questionIDs map[int64]struct{}, sub *ValidatedSubmission) (map[string]int64, error) {
	scalar, err := v.lifecycle.answers.ScalarAnswers(ctx, responseID, repository.DraftFilter(true))
	if err != nil {
		return nil, err
	}
	for _, d := range scalar {
		if _, ok := questionIDs[d.QuestionID]; !ok {
			sub.RejectedScalar = append(sub.RejectedScalar, d.QuestionID)
		}
	}

	tabular, err := v.lifecycle.answers.TabularAnswers(ctx, responseID, repository.DraftFilter(true))
	if err != nil {
		return nil, err
	}
	meds := make(map[string]int64, len(tabular))
	for _, d := range tabular {
		key, err := model.ParseAnswerKey(d.QuestionKey)
		if err != nil || !key.IsTabular() {
			sub.RejectedTabular = append(sub.RejectedTabular, d.QuestionKey)
			continue
		}
		meds[d.QuestionKey] = key.EntityID
	}
	return meds, nil
}

// ParseEntries validates each entry's fields and parses its key. The result is index-aligned
// with entries and holds nil for entries that failed.
func (v *SubmissionValidator) ParseEntries(entries []AnswerEntry, verr *ValidationError) []*model.AnswerKey {
	keys := make([]*model.AnswerKey, len(entries))
	for i, e := range entries {
		prefix := fmt.Sprintf("answers.%d", i)
		if err := v.validate.Struct(e); err != nil {
			var fieldErrs validator.ValidationErrors
			if errors.As(err, &fieldErrs) {
				for _, fe := range fieldErrs {
					verr.Add(prefix+"."+fe.Field(), "%s", fieldMessage(fe))
				}
			}
			continue
		}
		key, err := model.ParseAnswerKey(e.QuestionID)
		if err != nil {
			verr.Add(prefix+".question_id", "Invalid question ID format: %q", e.QuestionID)
			continue
		}
		keys[i] = &key
	}
	return keys
}

func (v *SubmissionValidator) checkCompletion(sub *ValidatedSubmission, verr *ValidationError) {
	if sub.Total == 0 {
		if len(sub.Scalar)+len(sub.Tabular) == 0 {
			verr.Add("answers", "At least one answer is required")
		}
		return
	}
	if sub.Answered*100 < sub.Total*v.thresholdPercent {
		verr.Add("completion", "At least %d%% of questions must be answered (%d of %d answered)",
			v.thresholdPercent, sub.Answered, sub.Total)
	}
}

func checkDuplicates(entries []AnswerEntry, keys []*model.AnswerKey, verr *ValidationError) {
	seen := make(map[string]bool, len(keys))
	reported := make(map[string]bool)
	for i, key := range keys {
		if key == nil {
			continue
		}
		// "3_7" and "med_3_field_7" address the same cell
		canonical := key.Canonical().String()
		if seen[canonical] && !reported[canonical] {
			reported[canonical] = true
			verr.Add("question_ids", "Duplicate question ID: %s", strings.TrimSpace(entries[i].QuestionID))
		}
		seen[canonical] = true
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required", fe.Field())
	case "gte":
		return fmt.Sprintf("The %s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("The %s may not be greater than %s characters", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("The %s field is invalid", fe.Field())
}

// uniqueIDs returns ids sorted ascending without repeats
func uniqueIDs(ids []int64) []int64 {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make([]int64, 0, len(sorted))
	for _, id := range sorted {
		if len(out) > 0 && out[len(out)-1] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}

func joinIDs(ids []int64) string {
	unique := uniqueIDs(ids)
	parts := make([]string, 0, len(unique))
	for _, id := range unique {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ", ")
}
