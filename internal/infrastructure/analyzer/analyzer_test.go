package analyzer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"quickdowntime/internal/core/domain"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChatClient struct {
	mock.Mock
}

func (m *mockChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.ChatCompletionResponse), args.Error(1)
}

func reply(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: content}}},
	}
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"plain":        `{"a":1}`,
		"fenced":       "```json\n{\"a\":1}\n```",
		"prose around": "Sure! Here is the analysis: {\"a\":1} Let me know.",
		"nested":       `note {"a":{"b":[1,2]},"c":"}"} trailing`,
		"bad then good": `{oops} then {"a":1}`,
	}
	want := map[string]string{
		"plain":         `{"a":1}`,
		"fenced":        `{"a":1}`,
		"prose around":  `{"a":1}`,
		"nested":        `{"a":{"b":[1,2]},"c":"}"}`,
		"bad then good": `{"a":1}`,
	}

	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ExtractJSON(in)
			require.NoError(t, err)
			assert.JSONEq(t, want[name], string(got))
		})
	}

	_, err := ExtractJSON("no json here")
	assert.ErrorIs(t, err, ErrNoJSON)
	_, err = ExtractJSON(`{"unterminated": `)
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestParseVerdict_Lenient(t *testing.T) {
	v, err := ParseVerdict("```json\n" + `{
		"root_cause": " Worn bearing ",
		"is_maintenance_required": "yes",
		"recommended_actions": "Replace bearing",
		"preventive_measures": ["Lubricate weekly", ""],
		"severity": "HIGH",
		"confidence_score": "85%"
	}` + "\n```")
	require.NoError(t, err)

	assert.Equal(t, "Worn bearing", v.RootCause)
	assert.True(t, v.IsMaintenanceRequired)
	assert.Equal(t, []string{"Replace bearing"}, v.RecommendedActions)
	assert.Equal(t, []string{"Lubricate weekly"}, v.PreventiveMeasures)
	assert.Equal(t, domain.SeverityHigh, v.Severity)
	assert.Equal(t, "unknown", v.PredictedNextFailure)
	assert.Equal(t, 85.0, v.ConfidenceScore)
}

func TestParseVerdict_ConfidenceRatioAndBounds(t *testing.T) {
	v, err := ParseVerdict(`{"confidence_score": 0.7, "severity": "catastrophic"}`)
	require.NoError(t, err)
	assert.InDelta(t, 70.0, v.ConfidenceScore, 0.001)
	assert.Equal(t, domain.SeverityUnknown, v.Severity)
	assert.Equal(t, []string{}, v.RecommendedActions)

	v, err = ParseVerdict(`{"confidence_score": 250}`)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v.ConfidenceScore)
}

func TestOpenAIAnalyzer_Analyze(t *testing.T) {
	client := &mockChatClient{}
	client.On("CreateChatCompletion", mock.Anything, mock.MatchedBy(func(req openai.ChatCompletionRequest) bool {
		return req.Model == "gemini-2.5-flash" &&
			len(req.Messages) == 2 &&
			req.Messages[0].Role == openai.ChatMessageRoleSystem &&
			strings.Contains(req.Messages[1].Content, `"machine_id": "M-7"`)
	})).Return(reply(`{"root_cause":"Belt slip","severity":"medium","confidence_score":64}`), nil).Once()

	a := NewOpenAIAnalyzerWithClient(client, OpenAIOptions{Model: "gemini-2.5-flash"}, nil)
	event := &domain.Downtime{MachineID: "M-7", Reason: "Belt jam"}
	history := []*domain.Downtime{{ID: 1, MachineID: "M-7", Reason: "Belt jam"}}

	v, err := a.Analyze(context.Background(), event, history)
	require.NoError(t, err)
	assert.Equal(t, "Belt slip", v.RootCause)
	assert.Equal(t, domain.SeverityMedium, v.Severity)
	client.AssertExpectations(t)
}

func TestOpenAIAnalyzer_TransportError(t *testing.T) {
	client := &mockChatClient{}
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(openai.ChatCompletionResponse{}, errors.New("503 upstream")).Once()

	a := NewOpenAIAnalyzerWithClient(client, OpenAIOptions{Model: "m"}, nil)
	_, err := a.Analyze(context.Background(), &domain.Downtime{MachineID: "M-1"}, nil)
	assert.ErrorIs(t, err, domain.ErrAnalyzer)
}

func TestOpenAIAnalyzer_UnparsableReply(t *testing.T) {
	client := &mockChatClient{}
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(reply("I cannot help with that."), nil).Once()

	a := NewOpenAIAnalyzerWithClient(client, OpenAIOptions{Model: "m"}, nil)
	_, err := a.Analyze(context.Background(), &domain.Downtime{MachineID: "M-1"}, nil)
	assert.ErrorIs(t, err, domain.ErrAnalyzer)
}

func TestOpenAIAnalyzer_NoChoices(t *testing.T) {
	client := &mockChatClient{}
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(openai.ChatCompletionResponse{}, nil).Once()

	a := NewOpenAIAnalyzerWithClient(client, OpenAIOptions{Model: "m"}, nil)
	_, err := a.Summarize(context.Background(), "3 stops")
	assert.ErrorIs(t, err, domain.ErrAnalyzer)
}

func TestOpenAIAnalyzer_HistoryIsCapped(t *testing.T) {
	client := &mockChatClient{}
	client.On("CreateChatCompletion", mock.Anything, mock.MatchedBy(func(req openai.ChatCompletionRequest) bool {
		return strings.Count(req.Messages[1].Content, `"machine_id": "H"`) == 2
	})).Return(reply(`{"root_cause":"x"}`), nil).Once()

	a := NewOpenAIAnalyzerWithClient(client, OpenAIOptions{Model: "m", MaxHistory: 2}, nil)
	history := []*domain.Downtime{{MachineID: "H"}, {MachineID: "H"}, {MachineID: "H"}}
	_, err := a.Analyze(context.Background(), &domain.Downtime{MachineID: "E"}, history)
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestNewOpenAIAnalyzer_RequiresKeyAndModel(t *testing.T) {
	_, err := NewOpenAIAnalyzer(OpenAIOptions{Model: "m"}, nil)
	assert.Error(t, err)
	_, err = NewOpenAIAnalyzer(OpenAIOptions{APIKey: "k"}, nil)
	assert.Error(t, err)
	a, err := NewOpenAIAnalyzer(OpenAIOptions{APIKey: "k", Model: "m", BaseURL: "https://example.test/v1/"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestRulesAnalyzer_Keywords(t *testing.T) {
	r := NewRulesAnalyzer()

	v, err := r.Analyze(context.Background(), &domain.Downtime{MachineID: "M-1", Reason: "Motor overheating", Category: "Mechanical"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Thermal overload or cooling failure", v.RootCause)
	assert.Equal(t, domain.SeverityHigh, v.Severity)
	assert.True(t, v.IsMaintenanceRequired)

	v, err = r.Analyze(context.Background(), &domain.Downtime{MachineID: "M-1", Reason: "??"}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityLow, v.Severity)
	assert.Equal(t, 30.0, v.ConfidenceScore)
}

func TestRulesAnalyzer_RepeatsEscalate(t *testing.T) {
	r := NewRulesAnalyzer()
	event := &domain.Downtime{ID: 9, MachineID: "M-2", Reason: "Belt jam"}
	history := []*domain.Downtime{
		{ID: 9, MachineID: "M-2"},
		{ID: 8, MachineID: "M-2"},
		{ID: 7, MachineID: "M-2"},
		{ID: 6, MachineID: "M-2"},
		{ID: 5, MachineID: "M-3"},
	}

	v, err := r.Analyze(context.Background(), event, history)
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityHigh, v.Severity)
	assert.True(t, v.IsMaintenanceRequired)
	assert.Equal(t, 75.0, v.ConfidenceScore)
}

func TestRulesAnalyzer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRulesAnalyzer().Analyze(ctx, &domain.Downtime{}, nil)
	assert.ErrorIs(t, err, domain.ErrAnalyzer)
}

func TestRulesAnalyzer_Summarize(t *testing.T) {
	out, err := NewRulesAnalyzer().Summarize(context.Background(), "M-1 Belt jam\nM-2 conveyor stuck\nM-3 motor noise")
	require.NoError(t, err)
	assert.Contains(t, out, "Material handling jam: 2")
	assert.Contains(t, out, "Rotating equipment wear: 1")
}
