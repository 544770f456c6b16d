// Package main provides the room control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	"github.com/osa030/roomsync/internal/api/ws"
	"github.com/osa030/roomsync/internal/app/session"
)

var (
	app    = kingpin.New("roomctl", "roomsync room control client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Connection token (or set ROOMSYNC_TOKEN env)").Envar("ROOMSYNC_TOKEN").String()
	wait   = app.Flag("wait", "How long to wait for the server's answer").Default("3s").Duration()

	// token command
	tokenCmd    = app.Command("token", "Issue a connection token")
	tokenSecret = tokenCmd.Flag("secret", "Signing secret (or set ROOMSYNC_AUTH_SECRET env)").Envar("ROOMSYNC_AUTH_SECRET").Required().String()
	tokenUser   = tokenCmd.Arg("user-id", "User ID").Required().String()
	tokenName   = tokenCmd.Arg("name", "Display name").String()
	tokenTTL    = tokenCmd.Flag("ttl", "Token lifetime").Default("24h").Duration()

	// create-room command
	createCmd         = app.Command("create-room", "Create a room")
	createControlMode = createCmd.Flag("control-mode", "Who may control playback").Default("everyone").Enum("everyone", "owner_only")
	createAdSync      = createCmd.Flag("ad-sync", "Ad synchronization mode").Default("off").Enum("off", "pause_all")
	createAutoadvance = createCmd.Flag("autoadvance", "Advance to the next entry when one completes").Bool()
	createRotate      = createCmd.Flag("rotate", "Requeue retired entries at the tail").Bool()

	// status command
	statusCmd  = app.Command("status", "Show a room")
	statusRoom = statusCmd.Arg("room-id", "Room ID").Required().String()

	// watch command
	watchCmd  = app.Command("watch", "Join a room and print its events")
	watchCode = watchCmd.Arg("code", "Room code").Required().String()

	// enqueue command
	enqueueCmd      = app.Command("enqueue", "Add media to a room's queue")
	enqueueCode     = enqueueCmd.Arg("code", "Room code").Required().String()
	enqueueMedia    = enqueueCmd.Arg("media-id", "Media ID").Required().String()
	enqueueTitle    = enqueueCmd.Flag("title", "Title").String()
	enqueueDuration = enqueueCmd.Flag("duration", "Duration (looked up when omitted)").Duration()

	// control commands
	playCmd     = app.Command("play", "Start or resume playback")
	pauseCmd    = app.Command("pause", "Pause playback")
	restartCmd  = app.Command("restart", "Restart the current entry")
	skipCmd     = app.Command("skip", "Skip the current entry")
	continueCmd = app.Command("continue", "Continue with the next entry")
	probeCmd    = app.Command("probe", "Check whether the current entry has completed")

	seekCmd = app.Command("seek", "Seek the current entry")
	seekTo  = seekCmd.Flag("to", "Absolute position").Duration()
	seekBy  = seekCmd.Flag("by", "Relative offset (may be negative)").String()
	seekRun = seekCmd.Flag("play", "Start playing after seeking").Bool()

	readyCmd = app.Command("ready", "Report readiness")
	readyNot = readyCmd.Flag("not", "Report not ready").Bool()

	controlCodes = map[*kingpin.CmdClause]*string{}
	controlTypes = map[string]string{
		"play":     ws.MsgControlPlay,
		"pause":    ws.MsgControlPause,
		"restart":  ws.MsgControlRestart,
		"skip":     ws.MsgControlSkip,
		"continue": ws.MsgControlContinueNext,
		"probe":    ws.MsgControlProbe,
		"seek":     ws.MsgControlSeek,
		"ready":    ws.MsgReadinessReport,
	}
)

func init() {
	for _, cmd := range []*kingpin.CmdClause{playCmd, pauseCmd, restartCmd, skipCmd, continueCmd, probeCmd, seekCmd, readyCmd} {
		controlCodes[cmd] = cmd.Arg("code", "Room code").Required().String()
	}
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == tokenCmd.FullCommand() {
		issueToken()
		return
	}

	if *token == "" {
		fmt.Println("Error: token is required (use --token or ROOMSYNC_TOKEN env)")
		os.Exit(1)
	}

	c := newClient(*server, *token)
	ctx := context.Background()

	switch command {
	case createCmd.FullCommand():
		createRoom(ctx, c)
	case statusCmd.FullCommand():
		status(ctx, c, *statusRoom)
	case watchCmd.FullCommand():
		watch(ctx, c, *watchCode)
	case enqueueCmd.FullCommand():
		enqueue(ctx, c)
	default:
		for cmd, code := range controlCodes {
			if command == cmd.FullCommand() {
				control(ctx, c, command, *code)
				return
			}
		}
	}
}

func fail(err error) {
	fmt.Printf("Error: %v\n", err)
	os.Exit(1)
}

func issueToken() {
	name := *tokenName
	if name == "" {
		name = *tokenUser
	}
	signed, err := ws.IssueToken(*tokenSecret, *tokenUser, name, *tokenTTL)
	if err != nil {
		fail(err)
	}
	fmt.Println(signed)
}

func createRoom(ctx context.Context, c *client) {
	var view session.RoomView
	err := c.do(ctx, http.MethodPost, "/api/v1/rooms", map[string]any{
		"control_mode":       *createControlMode,
		"ad_sync_mode":       *createAdSync,
		"autoadvance_on_end": *createAutoadvance,
		"rotate_on_retire":   *createRotate,
	}, &view)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Room created! Code: %s\n", view.Code)
	printView(&view)
}

func status(ctx context.Context, c *client, roomID string) {
	var view session.RoomView
	if err := c.do(ctx, http.MethodGet, "/api/v1/rooms/"+roomID, nil, &view); err != nil {
		fail(err)
	}
	printView(&view)
}

// enter connects and joins the room with code.
func enter(ctx context.Context, c *client, code string) (*roomConn, *session.RoomView) {
	conn, err := c.dial(ctx)
	if err != nil {
		fail(err)
	}
	view, err := conn.join(code, *wait)
	if err != nil {
		conn.Close()
		fail(err)
	}
	return conn, view
}

func watch(ctx context.Context, c *client, code string) {
	conn, view := enter(ctx, c, code)
	defer conn.Close()
	printView(view)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	envCh := make(chan error, 1)
	go func() {
		for {
			env, ok, err := conn.next(time.Time{})
			if err != nil {
				envCh <- err
				return
			}
			if ok {
				printEnvelope(env)
			}
		}
	}()

	fmt.Println("Watching... (Ctrl+C to stop)")
	for {
		select {
		case <-sigCh:
			fmt.Println("\nStopped")
			return
		case err := <-envCh:
			fail(err)
		case <-heartbeat.C:
			if err := conn.send(ws.MsgPresenceHeartbeat, view.ID, nil); err != nil {
				fail(err)
			}
		}
	}
}

func enqueue(ctx context.Context, c *client) {
	conn, view := enter(ctx, c, *enqueueCode)
	defer conn.Close()

	if err := conn.send(ws.MsgQueueAdd, view.ID, map[string]any{
		"media_id":    *enqueueMedia,
		"title":       *enqueueTitle,
		"duration_ms": enqueueDuration.Milliseconds(),
	}); err != nil {
		fail(err)
	}
	env, ok, err := conn.await(*wait, session.MsgItemAdded)
	if err != nil {
		fail(err)
	}
	if !ok {
		fmt.Println("No answer from server")
		return
	}
	fmt.Printf("Enqueued: %s\n", string(env.Data))
}

func control(ctx context.Context, c *client, command, code string) {
	msgType := controlTypes[command]

	var data any
	switch command {
	case seekCmd.FullCommand():
		seek := map[string]any{"play": *seekRun}
		switch {
		case *seekBy != "":
			delta, err := time.ParseDuration(*seekBy)
			if err != nil {
				fail(err)
			}
			seek["delta_ms"] = delta.Milliseconds()
		default:
			seek["progress_ms"] = seekTo.Milliseconds()
		}
		data = seek
	case readyCmd.FullCommand():
		data = map[string]bool{"ready": !*readyNot}
	}

	conn, view := enter(ctx, c, code)
	defer conn.Close()

	if err := conn.send(msgType, view.ID, data); err != nil {
		fail(err)
	}

	want := []string{session.MsgPlaybackUpdate}
	switch command {
	case probeCmd.FullCommand():
		want = []string{ws.MsgProbeResult}
	case readyCmd.FullCommand():
		want = append(want, session.MsgReadinessUpdate)
	}

	env, ok, err := conn.await(*wait, want...)
	if err != nil {
		fail(err)
	}
	if !ok {
		fmt.Println("No change")
		return
	}
	printEnvelope(env)
}
