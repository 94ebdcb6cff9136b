package domain

import (
	"testing"
)

func mustParse(t *testing.T, raw string) Value {
	t.Helper()
	v, err := ParseValue([]byte(raw))
	if err != nil {
		t.Fatalf("ParseValue(%s) failed: %v", raw, err)
	}
	return v
}

func TestValueResolve(t *testing.T) {
	record := mustParse(t, `{
		"amount": 15000.50,
		"applicant": {"name": "Ada", "address": {"country": "GB"}, "nickname": null},
		"items": [{"sku": "A-1"}, {"sku": "B-2"}],
		"verified": true
	}`)

	t.Run("TopLevelNumber", func(t *testing.T) {
		v, ok := record.Resolve("amount")
		if !ok || v.Kind() != KindNumber {
			t.Fatalf("expected number, got %v ok=%v", v.Kind(), ok)
		}
		if v.Text() != "15000.5" {
			t.Errorf("expected 15000.5, got %s", v.Text())
		}
	})

	t.Run("NestedString", func(t *testing.T) {
		v, ok := record.Resolve("applicant.address.country")
		if !ok || v.Str() != "GB" {
			t.Errorf("expected GB, got %q ok=%v", v.Str(), ok)
		}
	})

	t.Run("ListIndex", func(t *testing.T) {
		v, ok := record.Resolve("items.1.sku")
		if !ok || v.Str() != "B-2" {
			t.Errorf("expected B-2, got %q ok=%v", v.Str(), ok)
		}
	})

	t.Run("MissingIntermediate", func(t *testing.T) {
		if _, ok := record.Resolve("employer.name"); ok {
			t.Error("expected missing path to be absent")
		}
		if _, ok := record.Resolve("amount.value"); ok {
			t.Error("expected descent into a scalar to be absent")
		}
		if _, ok := record.Resolve("items.7.sku"); ok {
			t.Error("expected out-of-range index to be absent")
		}
	})

	t.Run("ExplicitNull", func(t *testing.T) {
		v, ok := record.Resolve("applicant.nickname")
		if !ok || !v.IsNull() {
			t.Errorf("expected present null, got %v ok=%v", v.Kind(), ok)
		}
	})

	t.Run("EmptyPath", func(t *testing.T) {
		if _, ok := record.Resolve(""); ok {
			t.Error("expected empty path to be absent")
		}
	})
}

func TestValueJSONRoundTrip(t *testing.T) {
	v := mustParse(t, `{"b": [1, "x", false], "a": 0.1}`)
	data, err := v.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	if string(data) != `{"a":0.1,"b":[1,"x",false]}` {
		t.Errorf("unexpected encoding: %s", data)
	}
}

func TestValueWith(t *testing.T) {
	base := mustParse(t, `{"a": 1}`)
	next := base.With("b", StringValue("two"))

	if _, ok := base.Field("b"); ok {
		t.Error("With must not mutate the receiver")
	}
	if v, ok := next.Field("b"); !ok || v.Str() != "two" {
		t.Error("expected b on the copy")
	}
	if _, ok := next.Field("a"); !ok {
		t.Error("expected a to be carried over")
	}
}

func TestParseApplication(t *testing.T) {
	t.Run("IdentityFields", func(t *testing.T) {
		app, err := ParseApplication([]byte(`{"id": "app-1", "type": "loan", "source": "web", "amount": 10}`))
		if err != nil {
			t.Fatalf("ParseApplication failed: %v", err)
		}
		if app.ID != "app-1" || app.Type != "loan" || app.SourceSystem != "web" {
			t.Errorf("unexpected identity: %+v", app)
		}
		if v, ok := app.Data.Resolve("amount"); !ok || v.Text() != "10" {
			t.Error("expected full record to be kept")
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		app, err := ParseApplication([]byte(`{"amount": 10}`))
		if err != nil {
			t.Fatalf("ParseApplication failed: %v", err)
		}
		if app.ID == "" {
			t.Error("expected generated id")
		}
		if app.Type != "unknown" || app.SourceSystem != "unknown" {
			t.Errorf("expected unknown defaults, got %q/%q", app.Type, app.SourceSystem)
		}
	})

	t.Run("AlternateKeys", func(t *testing.T) {
		app, err := ParseApplication([]byte(`{"applicationId": 42, "applicationType": "card", "sourceSystem": "branch"}`))
		if err != nil {
			t.Fatalf("ParseApplication failed: %v", err)
		}
		if app.ID != "42" || app.Type != "card" || app.SourceSystem != "branch" {
			t.Errorf("unexpected identity: %+v", app)
		}
	})

	t.Run("NotAnObject", func(t *testing.T) {
		if _, err := ParseApplication([]byte(`[1,2]`)); err == nil {
			t.Error("expected error for array payload")
		}
		if _, err := ParseApplication([]byte(`{bad`)); err == nil {
			t.Error("expected error for malformed JSON")
		}
	})
}
