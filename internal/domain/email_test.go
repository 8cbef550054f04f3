package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func validRequest() EmailRequest {
	return EmailRequest{
		To:             "a@x.com",
		Subject:        "hello",
		Body:           "world",
		IdempotencyKey: "k1",
	}
}

func TestEmailRequestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(r *EmailRequest)
		wantErr bool
	}{
		{name: "valid", mutate: func(r *EmailRequest) {}},
		{name: "missing recipient", mutate: func(r *EmailRequest) { r.To = "" }, wantErr: true},
		{name: "malformed recipient", mutate: func(r *EmailRequest) { r.To = "not-an-email" }, wantErr: true},
		{name: "recipient with space", mutate: func(r *EmailRequest) { r.To = "a b@x.com" }, wantErr: true},
		{name: "missing subject", mutate: func(r *EmailRequest) { r.Subject = "" }, wantErr: true},
		{name: "subject at limit", mutate: func(r *EmailRequest) { r.Subject = strings.Repeat("s", MaxSubjectLength) }},
		{name: "subject over limit", mutate: func(r *EmailRequest) { r.Subject = strings.Repeat("s", MaxSubjectLength+1) }, wantErr: true},
		{name: "missing body", mutate: func(r *EmailRequest) { r.Body = "" }, wantErr: true},
		{name: "whitespace body", mutate: func(r *EmailRequest) { r.Body = " \n\t" }, wantErr: true},
		{name: "missing key", mutate: func(r *EmailRequest) { r.IdempotencyKey = "" }, wantErr: true},
		{name: "key over limit", mutate: func(r *EmailRequest) { r.IdempotencyKey = strings.Repeat("k", MaxIdempotencyKeyLength+1) }, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := validRequest()
			tt.mutate(&req)

			err := req.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestEmailRequestNormalize(t *testing.T) {
	t.Parallel()

	got := EmailRequest{
		To:             "  a@x.com ",
		Subject:        " hi ",
		Body:           "\tbody\n",
		IdempotencyKey: " k1 ",
	}.Normalize()

	if got != validRequestWith("hi", "\tbody\n") {
		t.Fatalf("Normalize() = %+v", got)
	}
}

func validRequestWith(subject, body string) EmailRequest {
	r := validRequest()
	r.Subject = subject
	r.Body = body
	return r
}

func TestErrorCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: fmt.Errorf("%w: to is required", ErrValidation), want: CodeValidation},
		{err: ErrNotFound, want: CodeNotFound},
		{err: fmt.Errorf("send: %w", ErrRateLimitExceeded), want: CodeRateLimitExceeded},
		{err: ErrCircuitOpen, want: CodeCircuitOpen},
		{err: fmt.Errorf("%w: 6 invocations", ErrMaxRetriesExceeded), want: CodeMaxRetriesExceeded},
		{err: fmt.Errorf("%w: %w: all open", ErrMaxRetriesExceeded, ErrCircuitOpen), want: CodeCircuitOpen},
		{err: errors.New("boom"), want: CodeInternal},
	}

	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Fatalf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestParseDeliveryStatusFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseDeliveryStatusFromString(" sent ")
	if err != nil {
		t.Fatalf("ParseDeliveryStatusFromString() unexpected error = %v", err)
	}
	if got != DeliveryStatusSent {
		t.Fatalf("ParseDeliveryStatusFromString() = %s, want %s", got, DeliveryStatusSent)
	}

	_, err = ParseDeliveryStatusFromString("queued")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseDeliveryStatusFromString() error = %v, want ErrValidation", err)
	}
}
