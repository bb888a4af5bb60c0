package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/gookit/color"
	"github.com/npezzotti/go-forumsync/internal/conversation"
	"github.com/npezzotti/go-forumsync/internal/realtime"
	"github.com/npezzotti/go-forumsync/internal/session"
	"github.com/npezzotti/go-forumsync/internal/types"
	"github.com/olekukonko/tablewriter"
)

const timeLayout = "15:04:05"

// renderer prints session activity to a terminal.
type renderer struct {
	mu     sync.Mutex
	out    io.Writer
	colors bool
}

func newRenderer(out io.Writer, colors bool) *renderer {
	return &renderer{out: out, colors: colors}
}

func (r *renderer) paint(c color.Color, s string) string {
	if !r.colors {
		return s
	}
	return c.Render(s)
}

func (r *renderer) line(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format+"\n", args...)
}

func (r *renderer) chat(m types.Message) {
	switch m.Kind {
	case types.KindJoin, types.KindLeave, types.KindSystem:
		r.line("%s %s", r.paint(color.Gray, m.CreatedAt.Local().Format(timeLayout)), r.paint(color.Gray, m.Content))
	default:
		r.line("%s %s: %s",
			r.paint(color.Gray, m.CreatedAt.Local().Format(timeLayout)),
			r.paint(color.Cyan, author(m)),
			m.Content)
	}
}

func (r *renderer) private(p realtime.PrivateMessagePayload, me int) {
	direction := "from " + strconv.Itoa(p.SenderId)
	if p.SenderId == me {
		direction = "to " + strconv.Itoa(p.RecipientId)
	}
	r.line("%s %s %s: %s",
		r.paint(color.Gray, p.Message.CreatedAt.Local().Format(timeLayout)),
		r.paint(color.Magenta, "[pm "+direction+"]"),
		r.paint(color.Cyan, author(p.Message)),
		p.Message.Content)
}

func (r *renderer) notification(n types.Notification) {
	r.line("%s %s", r.paint(color.Yellow, "[notification "+n.Type+"]"), n.Content)
}

func (r *renderer) notice(n session.Notice) {
	msg := n.Message
	if n.Code != "" {
		msg = n.Code + ": " + msg
	}
	r.line("%s", r.paint(color.Red, "! "+msg))
}

func (r *renderer) state(s realtime.State) {
	c := color.Yellow
	switch s {
	case realtime.StateConnected:
		c = color.Green
	case realtime.StateFailed:
		c = color.Red
	}
	r.line("%s", r.paint(c, "* "+s.String()))
}

// typing prints who is typing in key. An empty list prints nothing.
func (r *renderer) typing(key conversation.Key, names []string) {
	if len(names) == 0 {
		return
	}
	verb := "is"
	if len(names) > 1 {
		verb = "are"
	}
	r.line("%s", r.paint(color.Gray, fmt.Sprintf("%s %s typing (%s)", strings.Join(names, ", "), verb, key)))
}

func (r *renderer) online(online, members int) {
	r.line("%s", r.paint(color.Green, fmt.Sprintf("%d of %d online", online, members)))
}

func (r *renderer) counts(c types.Counts) {
	r.line("%s messages=%d notifications=%d", r.paint(color.Blue, "[unread]"), c.Messages, c.Notifications)
}

func (r *renderer) roster(users []types.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"Id", "Name", "Status"})
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetTablePadding("\t")

	for _, u := range users {
		table.Append([]string{strconv.Itoa(u.Id), u.DisplayName, string(u.Status)})
	}
	table.Render()
}

func (r *renderer) unreadTable(c types.Counts) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"Kind", "Unread"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.Append([]string{"messages", strconv.Itoa(c.Messages)})
	table.Append([]string{"notifications", strconv.Itoa(c.Notifications)})
	table.Render()
}

func author(m types.Message) string {
	if m.AuthorDisplayName != "" {
		return m.AuthorDisplayName
	}
	return "#" + strconv.Itoa(m.AuthorId)
}
