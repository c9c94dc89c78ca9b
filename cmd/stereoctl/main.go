// Stereoctl queries a running stereomark host.
//
// Usage:
//
//	stereoctl status
//	stereoctl position
//	stereoctl detections left_front
//	stereoctl watch
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-stereomark/internal/httpc"
	"github.com/teslashibe/go-stereomark/pkg/web"
)

func main() {
	addr := flag.String("addr", "http://localhost:8088", "stereomark web API address")
	timeout := flag.Duration("timeout", httpc.DefaultTimeout, "Request timeout")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: stereoctl [flags] status|position|detections <camera>|watch\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := httpc.NewClient(*timeout)
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "status":
		err = printRaw(ctx, client, *addr+"/api/status")
	case "position":
		var p web.PositionResponse
		if err = httpc.GetJSON(ctx, client, *addr+"/api/position", &p); err == nil {
			printPosition(p)
		}
	case "detections":
		if len(args) < 2 {
			flag.Usage()
			os.Exit(2)
		}
		err = printRaw(ctx, client, *addr+"/api/cameras/"+url.PathEscape(args[1])+"/detections")
	case "watch":
		err = watch(ctx, *addr)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func printRaw(ctx context.Context, client *http.Client, u string) error {
	var raw json.RawMessage
	if err := httpc.GetJSON(ctx, client, u, &raw); err != nil {
		return err
	}
	if raw == nil {
		fmt.Println("(no content)")
		return nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return err
	}
	fmt.Println(out.String())
	return nil
}

func printPosition(p web.PositionResponse) {
	state := "held"
	if p.Moved {
		state = "moved"
	}
	if p.Stale {
		state = "stale"
	}
	fmt.Printf("#%d  x=%+.4f y=%+.4f z=%+.4f  %s\n", p.Seq, p.Position.X, p.Position.Y, p.Position.Z, state)
}

// watch streams position updates until interrupted.
func watch(ctx context.Context, addr string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/position"

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var p web.PositionResponse
		if err := conn.ReadJSON(&p); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		printPosition(p)
	}
}
