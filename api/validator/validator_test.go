package validator

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type sendRequest struct {
	Content  string `json:"content" validate:"notblank,max=20"`
	Type     string `json:"type,omitempty" validate:"omitempty,oneof=text image"`
	ClientID string `json:"client_id" validate:"max=8"`
	Avatar   string `json:"avatar_url" validate:"omitempty,url"`
	Internal string `json:"-" validate:"required"`
	Limit    int    `validate:"min=1"`
}

func valid() sendRequest {
	return sendRequest{Content: "hello", Internal: "x", Limit: 1}
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := New()

	tests := []struct {
		name   string
		modify func(*sendRequest)
		want   []ValidationError
	}{
		{
			name:   "Valid",
			modify: func(*sendRequest) {},
		},
		{
			name:   "Blank content",
			modify: func(r *sendRequest) { r.Content = " \n\t" },
			want:   []ValidationError{{Field: "content", Message: "is required"}},
		},
		{
			name:   "Long content",
			modify: func(r *sendRequest) { r.Content = "this is far too long for the limit" },
			want:   []ValidationError{{Field: "content", Message: "must be at most 20"}},
		},
		{
			name:   "Unknown type",
			modify: func(r *sendRequest) { r.Type = "sticker" },
			want:   []ValidationError{{Field: "type", Message: "must be one of: text image"}},
		},
		{
			name:   "Bad avatar",
			modify: func(r *sendRequest) { r.Avatar = "not a url" },
			want:   []ValidationError{{Field: "avatar_url", Message: "must be a URL"}},
		},
		{
			name: "Several fields",
			modify: func(r *sendRequest) {
				r.Content = ""
				r.ClientID = "123456789"
				r.Limit = 0
			},
			want: []ValidationError{
				{Field: "content", Message: "is required"},
				{Field: "client_id", Message: "must be at most 8"},
				{Field: "Limit", Message: "must be at least 1"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.modify(&r)
			got := v.ValidateStruct(r)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ValidateStruct() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidator_HiddenField(t *testing.T) {
	r := valid()
	r.Internal = ""
	errs := New().ValidateStruct(r)
	if len(errs) != 1 {
		t.Fatalf("Got %d errors, want 1: %v", len(errs), errs)
	}
	// Fields hidden from JSON fall back to the Go name.
	if errs[0].Field != "Internal" {
		t.Errorf("Got field %q, want Internal", errs[0].Field)
	}
}

func TestValidator_Validate(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		value   any
		tag     string
		wantErr bool
	}{
		{name: "Status ok", value: "away", tag: "oneof=online away offline"},
		{name: "Status unknown", value: "busy", tag: "oneof=online away offline", wantErr: true},
		{name: "Emoji present", value: "👍", tag: "notblank,max=32"},
		{name: "Emoji blank", value: "  ", tag: "notblank,max=32", wantErr: true},
		{name: "Participant ids", value: []string{"alice", "bob"}, tag: "dive,notblank"},
		{name: "Blank participant id", value: []string{"alice", ""}, tag: "dive,notblank", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := v.Validate(tt.value, tt.tag)
			if tt.wantErr != (len(errs) > 0) {
				t.Errorf("Validate() = %v, wantErr %v", errs, tt.wantErr)
			}
		})
	}
}
