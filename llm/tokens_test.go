package llm

import "testing"

func TestEstimatorCount(t *testing.T) {
	e := NewEstimator()
	if got := e.Count(""); got != 0 {
		t.Errorf("empty text must cost 0, got %d", got)
	}
	short := e.Count("hello")
	long := e.Count("hello world, this is a much longer piece of text to estimate")
	if short <= 0 {
		t.Errorf("non-empty text must cost > 0, got %d", short)
	}
	if long <= short {
		t.Errorf("longer text must cost more: %d vs %d", long, short)
	}
}

func TestEstimatorCountMessages(t *testing.T) {
	e := NewEstimator()
	messages := []Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "hi"},
	}
	perMessage := e.Count("be terse") + e.Count("hi")
	got := e.CountMessages(messages)
	if got != perMessage+8 {
		t.Errorf("expected content plus 4 framing tokens per message, got %d", got)
	}
}
