package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/mpapenbr/simcoach/log"
	"github.com/mpapenbr/simcoach/pkg/endpoints/live"
	"github.com/mpapenbr/simcoach/pkg/model"
	"github.com/mpapenbr/simcoach/version"
)

var (
	addr  string
	count int
)

func NewClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "talks to a running simcoach server",
	}
	cmd.PersistentFlags().StringVar(&addr,
		"server",
		"http://localhost:8000",
		"base url of the server")
	cmd.AddCommand(newLiveCmd(), newStatusCmd())
	return cmd
}

func newLiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "live",
		Short: "receives live telemetry frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return liveData(ctx, addr, count, func(f *model.Frame) {
				log.Info("frame", frameFields(f)...)
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after n frames (0: unlimited)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "prints the pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := fetchStatus(cmd.Context(), addr)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(os.Stdout, string(data))
			return err
		},
	}
}

// wsURL maps the server base url to the live endpoint.
func wsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + live.Path
	q := u.Query()
	q.Set("version", version.Version)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// liveData calls onFrame for every frame until ctx is done, the server
// closes the connection or n frames were received.
func liveData(ctx context.Context, base string, n int, onFrame func(*model.Frame)) error {
	target, err := wsURL(base)
	if err != nil {
		return err
	}
	c, resp, err := websocket.Dial(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("could not connect to %s: %w", target, err)
	}
	defer c.CloseNow()
	log.Debug("connected", log.String("url", target))

	for received := 0; n <= 0 || received < n; received++ {
		_, data, err := c.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		var f model.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn("could not decode frame", log.ErrorField(err))
			continue
		}
		onFrame(&f)
	}
	return c.Close(websocket.StatusNormalClosure, "")
}

func fetchStatus(ctx context.Context, base string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(base, "/")+"/api/status", http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func frameFields(f *model.Frame) []log.Field {
	ret := []log.Field{
		log.String("game", string(f.Game)),
		log.Float64("speed", f.Speed),
		log.Int("gear", f.Gear),
		log.Int("lap", f.LapNumber),
		log.Float64("lapDist", f.LapDistance),
	}
	if msg, ok := f.CoachingMessage.Get(); ok {
		ret = append(ret, log.String("coach", msg))
	}
	return ret
}
