package trigger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"imx296-capture/corelog"
	"imx296-capture/models"
)

// RemoteConfig configures a ntfy.sh-style long-poll subscriber.
type RemoteConfig struct {
	Server      string        // e.g. "https://ntfy.sh"
	Topic       string
	PollInterval time.Duration // default 2s
}

// RemoteSource polls a push-notification topic for newline-delimited JSON
// messages and maps each one onto a Command, the same protocol as
// ntfy_handler.py: GET .../json?since=<id|all>, one JSON object per line,
// "command"/"params" or a plain-text "start_recording 30" body.
type RemoteSource struct {
	cfg        RemoteConfig
	pollClient *http.Client // long-poll GET: server holds the connection (§5, 300s)
	client     *http.Client // notification POST: short-lived request (10s)

	lastMessageID string
}

// NewRemoteSource builds a RemoteSource with config defaults applied.
func NewRemoteSource(cfg RemoteConfig) *RemoteSource {
	if cfg.Server == "" {
		cfg.Server = "https://ntfy.sh"
	}
	if cfg.Topic == "" {
		cfg.Topic = "raspie-camera-dawg-123"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &RemoteSource{
		cfg:        cfg,
		pollClient: &http.Client{Timeout: 300 * time.Second},
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Run polls until ctx is cancelled, emitting each parsed Command onto out.
// It sends a startup notification on entry and a shutdown notification on
// exit, and backs off to 2x the poll interval after a transport error.
func (r *RemoteSource) Run(ctx context.Context, out chan<- Command) {
	r.notify("Camera system started", "Ready for commands")
	defer r.notify("Camera system stopped", "System shutting down")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		interval := r.cfg.PollInterval
		if err := r.poll(ctx, out); err != nil {
			corelog.L().Warn("trigger: ntfy poll error: %v", err)
			interval *= 2
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (r *RemoteSource) poll(ctx context.Context, out chan<- Command) error {
	u, err := url.Parse(fmt.Sprintf("%s/%s/json", r.cfg.Server, r.cfg.Topic))
	if err != nil {
		return err
	}
	q := u.Query()
	if r.lastMessageID != "" {
		q.Set("since", r.lastMessageID)
	} else {
		q.Set("since", "all")
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := r.pollClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.processMessage(line, out)
	}
	return scanner.Err()
}

type ntfyMessage struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (r *RemoteSource) processMessage(line string, out chan<- Command) {
	var msg ntfyMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		corelog.L().Debug("trigger: discarding unparsable ntfy line: %v", err)
		return
	}
	if msg.ID != "" {
		r.lastMessageID = msg.ID
	}
	content := strings.TrimSpace(msg.Message)
	if content == "" {
		return
	}

	cmd, ok := parseCommandBody(content)
	if !ok {
		corelog.L().Warn("trigger: unrecognized remote command body: %q", content)
		return
	}
	cmd.Source = models.TriggerRemote
	out <- cmd
}

// parseCommandBody accepts either a JSON body ({"command":"start_recording",
// "duration":30}, or with duration/filename nested under "params") or the
// plain-text form ("start_recording 30").
func parseCommandBody(content string) (Command, bool) {
	if strings.HasPrefix(content, "{") {
		return parseJSONCommand(content)
	}
	return parseTextCommand(content)
}

func parseJSONCommand(content string) (Command, bool) {
	var body struct {
		Command  string  `json:"command"`
		Duration float64 `json:"duration"`
		Filename string  `json:"filename"`
		Params   struct {
			Duration float64 `json:"duration"`
			Filename string  `json:"filename"`
		} `json:"params"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(content)))
	if err := dec.Decode(&body); err != nil {
		return Command{}, false
	}
	if body.Duration <= 0 {
		body.Duration = body.Params.Duration
	}
	if body.Filename == "" {
		body.Filename = body.Params.Filename
	}
	kind, ok := kindFromString(body.Command)
	if !ok {
		return Command{}, false
	}
	cmd := Command{Kind: kind, Filename: body.Filename}
	if body.Duration > 0 {
		d := body.Duration
		cmd.Duration = &d
	}
	return cmd, true
}

func parseTextCommand(content string) (Command, bool) {
	parts := strings.Fields(content)
	if len(parts) == 0 {
		return Command{}, false
	}
	kind, ok := kindFromString(strings.ToLower(parts[0]))
	if !ok {
		return Command{}, false
	}
	cmd := Command{Kind: kind}
	if kind == StartRecording && len(parts) > 1 {
		if d, err := strconv.ParseFloat(parts[1], 64); err == nil {
			cmd.Duration = &d
		}
	}
	return cmd, true
}

func kindFromString(s string) (Kind, bool) {
	switch s {
	case "start_recording":
		return StartRecording, true
	case "stop_recording":
		return StopRecording, true
	case "status":
		return Status, true
	case "get_stats":
		return GetStats, true
	default:
		return 0, false
	}
}

// notify posts a best-effort status message to the topic; delivery failures
// are logged, never fatal.
func (r *RemoteSource) notify(title, message string) {
	r.NotifyResult(title, message)
}

// NotifyResult sends a reply notification for a completed command, mirroring
// ntfy_handler.py's send_recording_started/send_recording_stopped/send_status.
func (r *RemoteSource) NotifyResult(title, message string) {
	url := fmt.Sprintf("%s/%s", r.cfg.Server, r.cfg.Topic)
	body, err := json.Marshal(map[string]any{
		"title":   title,
		"message": message,
		"priority": 3,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		corelog.L().Warn("trigger: failed to send ntfy notification: %v", err)
		return
	}
	resp.Body.Close()
}
