package protocol

import "testing"

func TestDecode_GreetingRemap(t *testing.T) {
	msg, err := Decode([]byte(`{"Message":"Web socket connection established"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Type != TypeConnectionEstablished {
		t.Errorf("expected %q, got %q", TypeConnectionEstablished, msg.Type)
	}
}

func TestDecode_CartUpdated(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"cart-updated"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Type != TypeCartUpdated {
		t.Errorf("expected cart-updated, got %q", msg.Type)
	}
}

func TestDecode_UnknownTypePassesThrough(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"promo-blast","data":{"x":1}}`))
	if err != nil {
		t.Fatalf("unknown types must decode: %v", err)
	}
	if msg.Type != "promo-blast" {
		t.Errorf("got %q", msg.Type)
	}
	if msg.WeightDirection() != "" {
		t.Error("unknown type must not map to a weight direction")
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestBarcode_Shapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int64
		ok   bool
	}{
		{"object", `{"type":"item-read","data":{"barcode":6221031954};}`, 0, false},
		{"object-valid", `{"type":"item-read","data":{"barcode":6221031954}}`, 6221031954, true},
		{"bare-number", `{"type":"item-read","data":123456}`, 123456, true},
		{"string", `{"type":"item-read","data":"789"}`, 789, true},
		{"wrong-type", `{"type":"cart-updated","data":{"barcode":1}}`, 0, false},
		{"no-data", `{"type":"item-read"}`, 0, false},
	}

	for _, tc := range cases {
		msg, err := Decode([]byte(tc.raw))
		if err != nil {
			if tc.ok {
				t.Errorf("%s: unexpected decode error: %v", tc.name, err)
			}
			continue
		}
		got, ok := msg.Barcode()
		if ok != tc.ok || got != tc.want {
			t.Errorf("%s: got (%d,%v), want (%d,%v)", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestWeightDirection(t *testing.T) {
	inc, _ := Decode([]byte(`{"type":"weight increased"}`))
	if inc.WeightDirection() != "increased" {
		t.Errorf("got %q", inc.WeightDirection())
	}
	dec, _ := Decode([]byte(`{"type":"weight decreased"}`))
	if dec.WeightDirection() != "decreased" {
		t.Errorf("got %q", dec.WeightDirection())
	}
}

func TestPaymentSuccess(t *testing.T) {
	m, _ := Decode([]byte(`{"type":"payment-result"}`))
	if !m.PaymentSuccess() {
		t.Error("empty payload should count as success")
	}
	m, _ = Decode([]byte(`{"type":"payment-result","data":false}`))
	if m.PaymentSuccess() {
		t.Error("explicit false must be respected")
	}
	m, _ = Decode([]byte(`{"type":"payment-result","data":{"success":true}}`))
	if !m.PaymentSuccess() {
		t.Error("object success true")
	}
	m, _ = Decode([]byte(`{"type":"cart-updated"}`))
	if m.PaymentSuccess() {
		t.Error("non-payment message is never a payment success")
	}
}

func TestDecodePushEvent(t *testing.T) {
	ev, err := DecodePushEvent([]byte(`{"event_type":"session-started","session_id":42,"token":"abc"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.EventType != EventSessionStarted || ev.SessionID != 42 || ev.Token != "abc" {
		t.Errorf("bad event: %+v", ev)
	}

	if _, err := DecodePushEvent([]byte(`not json`)); err == nil {
		t.Fatal("expected error")
	}
}
