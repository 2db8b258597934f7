package watch

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/blasty8084/Nexus-247/internal/plugin"
	"github.com/blasty8084/Nexus-247/internal/supervisor"
)

// streamEvent is one decoded SSE event off the observer API.
type streamEvent struct {
	ID    int64
	Topic string
	At    time.Time
	Data  json.RawMessage
}

type eventMsg streamEvent

type statusMsg supervisor.Status

type pluginsMsg []plugin.Descriptor

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// subscribeToEvents connects to the SSE /events endpoint and feeds events
// into the channel. Returns sseDisconnectedMsg when the connection drops.
func subscribeToEvents(apiURL string, ch chan<- streamEvent) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest("GET", apiURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		var cur streamEvent

		for scanner.Scan() {
			line := scanner.Text()

			if line == "" {
				if len(cur.Data) > 0 {
					cur.At = time.Now()
					ch <- cur
					cur = streamEvent{}
				}
				continue
			}

			switch {
			case strings.HasPrefix(line, "id: "):
				if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
					cur.ID = id
				}
			case strings.HasPrefix(line, "event: "):
				cur.Topic = line[7:]
			case strings.HasPrefix(line, "data: "):
				cur.Data = json.RawMessage(line[6:])
			}
		}

		return sseDisconnectedMsg{}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan streamEvent) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchStatus queries the /status endpoint.
func fetchStatus(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(apiURL + "/status")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var st supervisor.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return errMsg(err)
	}
	return statusMsg(st)
}

// fetchPlugins queries the /plugins endpoint.
func fetchPlugins(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(apiURL + "/plugins")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var body struct {
		Plugins []plugin.Descriptor `json:"plugins"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return errMsg(err)
	}
	return pluginsMsg(body.Plugins)
}
