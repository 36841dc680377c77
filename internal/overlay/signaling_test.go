package overlay

import (
	"encoding/json"
	"testing"
)

func TestSignalMessageRoundTrip(t *testing.T) {
	cases := []signalMessage{
		{Type: signalOffer, Ufrag: "uf", Pwd: "pw"},
		{Type: signalAnswer, Ufrag: "uf2", Pwd: "pw2"},
		{Type: signalOffer, Candidate: "candidate:1 1 udp 2113937151 10.0.0.1 54321 typ host"},
	}
	for _, want := range cases {
		data, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var got signalMessage
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	}
}

func TestSignalTopicIsScopedToEndpoint(t *testing.T) {
	a := signalTopic("endpoint-a")
	b := signalTopic("endpoint-b")
	if a == b {
		t.Fatal("distinct endpoint ids must not share a signaling topic")
	}
}
