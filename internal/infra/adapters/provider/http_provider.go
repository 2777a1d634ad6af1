// File: internal/infra/adapters/provider/http_provider.go
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"vidfab-pipeline/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.GenerationProvider = (*HTTPProvider)(nil)

// HTTPProvider implements adapter.GenerationProvider against the generation
// gateway's JSON API. Submissions return a task id; task state is resolved by
// polling. Authorization: Bearer <API_KEY>.
type HTTPProvider struct {
	apiKey string
	base   string
	client *http.Client
}

func NewHTTPProvider(apiKey, base string) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, errors.New("provider api key empty")
	}
	if base == "" {
		return nil, errors.New("provider base url empty")
	}
	return &HTTPProvider{
		apiKey: apiKey,
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (p *HTTPProvider) Submit(ctx context.Context, req adapter.SubmitRequest) (string, error) {
	body := struct {
		Kind      string            `json:"kind"`
		Prompt    string            `json:"prompt"`
		AssetURLs []string          `json:"assetUrls,omitempty"`
		Params    map[string]string `json:"params,omitempty"`
	}{Kind: string(req.Kind), Prompt: req.Prompt, AssetURLs: req.AssetURLs, Params: req.Params}

	var out struct {
		TaskID string `json:"taskId"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/tasks", body, &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", errors.New("provider returned empty task id")
	}
	return out.TaskID, nil
}

func (p *HTTPProvider) PollStatus(ctx context.Context, taskID string) (*adapter.TaskStatus, error) {
	var out struct {
		State     string `json:"state"`
		OutputURL string `json:"outputUrl"`
		Error     string `json:"error"`
	}
	if err := p.do(ctx, http.MethodGet, "/v1/tasks/"+taskID, nil, &out); err != nil {
		return nil, err
	}
	st := adapter.TaskState(out.State)
	switch st {
	case adapter.TaskStateProcessing, adapter.TaskStateCompleted, adapter.TaskStateFailed:
	default:
		return nil, fmt.Errorf("provider returned unknown task state %q", out.State)
	}
	return &adapter.TaskStatus{State: st, OutputURL: out.OutputURL, Error: out.Error}, nil
}

func (p *HTTPProvider) AnalyzeScript(ctx context.Context, script string) ([]adapter.ShotPlan, error) {
	body := struct {
		Script string `json:"script"`
	}{Script: script}

	var out struct {
		Shots []struct {
			ShotNumber   int      `json:"shotNumber"`
			Prompt       string   `json:"prompt"`
			CharacterIDs []string `json:"characterIds"`
		} `json:"shots"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/script/analyze", body, &out); err != nil {
		return nil, err
	}
	if len(out.Shots) == 0 {
		return nil, &adapter.TerminalError{Code: http.StatusUnprocessableEntity, Message: "script produced no shots"}
	}
	plan := make([]adapter.ShotPlan, 0, len(out.Shots))
	for _, s := range out.Shots {
		plan = append(plan, adapter.ShotPlan{ShotNumber: s.ShotNumber, Prompt: s.Prompt, CharacterIDs: s.CharacterIDs})
	}
	return plan, nil
}

// do sends one JSON request. 4xx responses other than 408/429 become
// TerminalError so the queue dead-letters instead of retrying them.
func (p *HTTPProvider) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = fmt.Sprintf("provider http %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return &adapter.TerminalError{Code: resp.StatusCode, Message: msg}
		}
		return fmt.Errorf("provider http %d: %s", resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
