package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateKnownSubjects(t *testing.T) {
	tests := []struct {
		subject string
		data    string
	}{
		{SubjectSubmission, `{"content_type":"message","content":"hi","author_id":"u1","metadata":{"lang":"en"}}`},
		{SubjectDecision, `{"case_id":"case_1","author_id":"u1","decision":"rejected","action":"warn","risk_score":0.4}`},
		{SubjectEscalation, `{"thread_id":"case_1","case_id":"case_1","priority":"high","confidence":0.8}`},
		{SubjectAppealResolved, `{"appeal_id":"appeal_1","case_id":"case_1","decision":"upheld","composite":0.2,"resolved_by":"system"}`},
		{SubjectNotification, `{"user_id":"u1","case_id":"case_1","decision":"approved","message":"ok"}`},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			if err := Validate(tt.subject, []byte(tt.data)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateUnknownSubject(t *testing.T) {
	if err := Validate("unknown.subject", []byte(`{"foo":"bar"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	err := Validate(SubjectSubmission, []byte(`{not valid json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("expected 'invalid JSON' in error, got: %v", err)
	}
}

func TestValidateWrongShape(t *testing.T) {
	err := Validate(SubjectDecision, []byte(`{"risk_score":"high"}`))
	if err == nil {
		t.Fatal("expected schema validation error")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Fatalf("expected 'schema validation failed' in error, got: %v", err)
	}
}
