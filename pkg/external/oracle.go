package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/c-answer-server/internal/domain"
)

// OracleClient handles interactions with an OpenAI-compatible chat-completion
// service. The default endpoint is Groq's OpenAI-compatible API.
type OracleClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	logger     *logrus.Logger
}

// OracleConfig represents configuration for the oracle client
type OracleConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Timeout   time.Duration
	RateLimit int // requests per second
}

// Default endpoint and model, matching the hosted Llama deployment the
// eligibility prompts were tuned against.
const (
	defaultOracleBaseURL = "https://api.groq.com/openai/v1"
	defaultOracleModel   = "llama-3.3-70b-versatile"
)

// minCriteriaLength guards against spending a call on registry records with
// missing or placeholder criteria text.
const minCriteriaLength = 10

// Output-length caps per call type.
const (
	evaluateMaxTokens  = 150
	landscapeMaxTokens = 700
	compareMaxTokens   = 800
	extractMaxTokens   = 300
)

// NewOracleClient creates a new oracle client. An empty API key is allowed at
// construction time; calls will degrade to error verdicts until one is set.
func NewOracleClient(config OracleConfig, logger *logrus.Logger) *OracleClient {
	if config.BaseURL == "" {
		config.BaseURL = defaultOracleBaseURL
	}
	if config.Model == "" {
		config.Model = defaultOracleModel
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &OracleClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		logger:    logger,
	}
}

// chatCompletionRequest is the OpenAI-compatible /chat/completions request format.
type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatCompletionResponse is the OpenAI-compatible /chat/completions response format.
type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

const evaluateSystemPrompt = `You are an expert oncologist assistant. Compare the patient's profile against the clinical trial's eligibility criteria.

Rules:
1. Respond with a JSON object only: {"status": "MATCH" | "NO_MATCH" | "UNCERTAIN", "reason": "<one short sentence>"}
2. Be conservative. If any criterion excludes the patient, use NO_MATCH.
3. Keep the reason to one sentence.`

const landscapeSystemPrompt = `You are an oncology navigator writing for a patient. Given the patient profile, summarize the current treatment landscape for their situation: standard-of-care options, common trial directions, and questions to raise with their oncologist. Plain language, no medical advice, no drug dosing.`

const compareSystemPrompt = `You are an oncology navigator writing for a patient. Compare the saved clinical trials below against the patient's profile: how the trials differ, what each would require of the patient, and which eligibility questions remain open. Plain language, no recommendation of one trial over another.`

const extractSystemPrompt = `Extract a patient profile from the text. Respond with a JSON object only, using exactly these fields (use null for anything not stated):
{"diagnosis": string, "metastasis": string, "age": number, "sex": "MALE"|"FEMALE"|null, "kras_wild_type": boolean, "ecog": number, "msi": "STABLE"|"HIGH"|null, "prior_lines": "0"|"1"|"2"|"3+"|null}`

// Evaluate judges trial criteria against a flattened patient profile.
// Failures of any kind (missing credential, transport, malformed response)
// degrade to a verdict with VerdictError status; the method never returns an
// unhandled fault for those cases. Criteria below the minimum length
// short-circuit to a NotApplicable verdict without a network call.
func (o *OracleClient) Evaluate(ctx context.Context, criteria, profileText string) (*domain.EligibilityVerdict, error) {
	if len(strings.TrimSpace(criteria)) < minCriteriaLength {
		return &domain.EligibilityVerdict{
			Status:      domain.VerdictNotApplicable,
			Rationale:   "N/A - No criteria provided",
			EvaluatedAt: time.Now().UTC(),
		}, nil
	}

	userMessage := fmt.Sprintf("PATIENT PROFILE:\n%s\n\nTRIAL ELIGIBILITY CRITERIA:\n%s", profileText, criteria)

	content, err := o.chatCompletion(ctx, evaluateSystemPrompt, userMessage, 0, evaluateMaxTokens, true)
	if err != nil {
		o.logger.WithError(err).Warn("Eligibility evaluation failed")
		return &domain.EligibilityVerdict{
			Status:      domain.VerdictError,
			Rationale:   fmt.Sprintf("Error: AI analysis failed (%v)", err),
			EvaluatedAt: time.Now().UTC(),
		}, nil
	}

	verdict := parseVerdict(content)
	verdict.EvaluatedAt = time.Now().UTC()
	return verdict, nil
}

// Landscape synthesizes a treatment-landscape narrative for the profile.
func (o *OracleClient) Landscape(ctx context.Context, profileText string) (string, error) {
	userMessage := fmt.Sprintf("PATIENT PROFILE:\n%s", profileText)
	content, err := o.chatCompletion(ctx, landscapeSystemPrompt, userMessage, 0.6, landscapeMaxTokens, false)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
	}
	return strings.TrimSpace(content), nil
}

// Compare produces a comparison narrative over the saved trials.
func (o *OracleClient) Compare(ctx context.Context, profileText string, entries []domain.ShortlistEntry) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "PATIENT PROFILE:\n%s\n\nSAVED TRIALS:\n", profileText)
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s - %s\n   Last eligibility check: %s\n   Summary: %s\n",
			i+1, e.NCTID, e.Title, e.VerdictStatus, e.Summary)
	}

	content, err := o.chatCompletion(ctx, compareSystemPrompt, b.String(), 0.6, compareMaxTokens, false)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
	}
	return strings.TrimSpace(content), nil
}

// extractedProfile is the strict JSON shape requested from the oracle.
type extractedProfile struct {
	Diagnosis    string  `json:"diagnosis"`
	Metastasis   string  `json:"metastasis"`
	Age          *int    `json:"age"`
	Sex          *string `json:"sex"`
	KRASWildType *bool   `json:"kras_wild_type"`
	ECOG         *int    `json:"ecog"`
	MSI          *string `json:"msi"`
	PriorLines   *string `json:"prior_lines"`
}

// ExtractProfile maps free text onto the fixed profile field schema.
// Non-parseable output degrades to ErrMalformedExtraction so the caller can
// fall back to manual form entry.
func (o *OracleClient) ExtractProfile(ctx context.Context, freeText string) (*domain.PatientProfile, error) {
	content, err := o.chatCompletion(ctx, extractSystemPrompt, freeText, 0, extractMaxTokens, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
	}

	var extracted extractedProfile
	if err := json.Unmarshal([]byte(trimJSONFence(content)), &extracted); err != nil {
		o.logger.WithError(err).Warn("Profile extraction returned non-parseable output")
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedExtraction, err)
	}

	profile := &domain.PatientProfile{
		Diagnosis:  extracted.Diagnosis,
		Metastasis: extracted.Metastasis,
		Sex:        domain.SexUnknown,
		ECOG:       domain.ECOGUnknown,
		MSI:        domain.MSIUnknown,
		PriorLines: domain.PriorLinesUnknown,
	}
	if extracted.Age != nil && *extracted.Age > 0 {
		profile.Age = *extracted.Age
	}
	if extracted.Sex != nil {
		profile.Sex = domain.ParseSex(*extracted.Sex)
	}
	if extracted.ECOG != nil {
		profile.ECOG = domain.ParseECOG(*extracted.ECOG, true)
	}
	if extracted.MSI != nil {
		profile.MSI = domain.ParseMSI(*extracted.MSI)
	}
	if extracted.PriorLines != nil {
		profile.PriorLines = domain.ParsePriorLines(*extracted.PriorLines)
	}
	if extracted.KRASWildType != nil {
		if *extracted.KRASWildType {
			profile.KRASWildType = domain.TriStateYes
		} else {
			profile.KRASWildType = domain.TriStateNo
		}
	} else {
		profile.KRASWildType = domain.TriStateUnknown
	}
	profile.Normalize()

	return profile, nil
}

// chatCompletion performs a single chat-completion call.
func (o *OracleClient) chatCompletion(ctx context.Context, systemPrompt, userMessage string, temperature float64, maxTokens int, jsonOutput bool) (string, error) {
	if o.apiKey == "" {
		return "", fmt.Errorf("oracle API key not configured")
	}

	if err := o.rateLimit.Wait(ctx); err != nil {
		return "", err
	}

	reqBody := chatCompletionRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	if jsonOutput {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("oracle error: %s", chatResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("oracle returned no choices")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// verdictJSON is the structured eligibility response requested from the oracle.
type verdictJSON struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// parseVerdict interprets the oracle's eligibility output. The structured JSON
// form is authoritative; a leading "Status: ..." marker is accepted as a
// fallback for models that ignore the response format. Anything else maps to
// Uncertain so the display falls through to a neutral treatment.
func parseVerdict(content string) *domain.EligibilityVerdict {
	raw := strings.TrimSpace(content)

	var structured verdictJSON
	if err := json.Unmarshal([]byte(trimJSONFence(raw)), &structured); err == nil && structured.Status != "" {
		verdict := &domain.EligibilityVerdict{Rationale: strings.TrimSpace(structured.Reason), Raw: raw}
		switch strings.ToUpper(strings.TrimSpace(structured.Status)) {
		case "MATCH":
			verdict.Status = domain.VerdictMatch
		case "NO_MATCH", "NO MATCH":
			verdict.Status = domain.VerdictNoMatch
		default:
			verdict.Status = domain.VerdictUncertain
		}
		return verdict
	}

	// Legacy free-text fallback.
	switch {
	case strings.HasPrefix(raw, "Status: Match"):
		return &domain.EligibilityVerdict{Status: domain.VerdictMatch, Rationale: raw, Raw: raw}
	case strings.HasPrefix(raw, "Status: No Match"):
		return &domain.EligibilityVerdict{Status: domain.VerdictNoMatch, Rationale: raw, Raw: raw}
	default:
		return &domain.EligibilityVerdict{Status: domain.VerdictUncertain, Rationale: raw, Raw: raw}
	}
}

// trimJSONFence strips a markdown code fence wrapping a JSON body.
func trimJSONFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
