package discord

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jfmyers9/newsreel/internal/frame"
)

// Discord IPC opcodes.
const (
	opHandshake = 0
	opFrame     = 1
	opClose     = 2
)

const dialTimeout = 5 * time.Second

// Activity is a Rich Presence activity. The zero value clears it.
type Activity struct {
	Type       int         `json:"type,omitempty"`
	Name       string      `json:"name,omitempty"`
	Details    string      `json:"details,omitempty"`
	State      string      `json:"state,omitempty"`
	Timestamps *Timestamps `json:"timestamps,omitempty"`
	Assets     *Assets     `json:"assets,omitempty"`
	Instance   bool        `json:"instance"`
}

type Timestamps struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

type Assets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

type ipcClient struct {
	conn net.Conn
}

func ipcConnect(appID string) (*ipcClient, error) {
	conn, err := dialSocket(socketDirs())
	if err != nil {
		return nil, fmt.Errorf("dial discord socket: %w", err)
	}
	c, err := handshake(conn, appID)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func handshake(conn net.Conn, appID string) (*ipcClient, error) {
	payload, err := json.Marshal(map[string]any{
		"v":         1,
		"client_id": appID,
	})
	if err != nil {
		return nil, err
	}
	if err := frame.Write(conn, opHandshake, payload); err != nil {
		return nil, fmt.Errorf("handshake write: %w", err)
	}

	// Discord answers with a READY dispatch
	if _, _, err := frame.Read(conn); err != nil {
		return nil, fmt.Errorf("handshake read: %w", err)
	}
	return &ipcClient{conn: conn}, nil
}

// socketDirs lists where Discord may have created its socket
func socketDirs() []string {
	var dirs []string
	for _, env := range []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"} {
		if dir := os.Getenv(env); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return append(dirs, os.TempDir())
}

func dialSocket(dirs []string) (net.Conn, error) {
	lastErr := fmt.Errorf("no socket directories")
	for _, dir := range dirs {
		for i := 0; i <= 9; i++ {
			path := filepath.Join(dir, fmt.Sprintf("discord-ipc-%d", i))
			conn, err := net.DialTimeout("unix", path, dialTimeout)
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
	}
	return nil, fmt.Errorf("no discord socket found: %w", lastErr)
}

func (c *ipcClient) SetActivity(a Activity) error {
	args := map[string]any{"pid": os.Getpid()}
	// A nil activity clears the presence
	if a != (Activity{}) {
		args["activity"] = a
	}
	payload, err := json.Marshal(map[string]any{
		"cmd":   "SET_ACTIVITY",
		"args":  args,
		"nonce": uuid.NewString(),
	})
	if err != nil {
		return err
	}

	_ = c.conn.SetDeadline(time.Now().Add(dialTimeout))
	if err := frame.Write(c.conn, opFrame, payload); err != nil {
		return err
	}

	_, data, err := frame.Read(c.conn)
	if err != nil {
		return err
	}

	var resp struct {
		Evt  string `json:"evt"`
		Data struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Evt == "ERROR" {
		return fmt.Errorf("discord error %d: %s", resp.Data.Code, resp.Data.Message)
	}
	return nil
}

func (c *ipcClient) Close() error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = frame.Write(c.conn, opClose, []byte("{}"))
	return c.conn.Close()
}
