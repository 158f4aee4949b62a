// Package info renders session details for humans.
package info

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/shieldserve/internal/lifecycle"
	"github.com/loykin/shieldserve/internal/registry"
)

// Connection is everything a user needs to reach a running session.
type Connection struct {
	Status   lifecycle.Status
	Hosts    []string // names and addresses clients may use
	Port     int
	Password string
	Record   registry.Record
	LogPath  string
}

// URLs returns one https URL per host.
func URLs(hosts []string, port int) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, "https://"+net.JoinHostPort(h, strconv.Itoa(port))+"/")
	}
	return out
}

// RenderConnection formats connection info after a start.
func RenderConnection(c Connection) string {
	var b strings.Builder
	switch c.Status {
	case lifecycle.AlreadyRunning:
		b.WriteString(renderWarn("already running") + "\n")
	default:
		b.WriteString(renderOK("started") + "\n")
	}
	b.WriteString("\n")

	for i, u := range URLs(c.Hosts, c.Port) {
		key := ""
		if i == 0 {
			key = "URL"
		}
		b.WriteString(label(key) + bold.Render(u) + "\n")
	}
	b.WriteString(label("Password") + c.Password + "\n")
	b.WriteString(label("PIDs") + fmt.Sprintf("service %d, proxy %d, watchdog %d",
		c.Record.ServicePID, c.Record.ProxyPID, c.Record.MonitorPID) + "\n")
	if c.LogPath != "" {
		b.WriteString(label("Log") + c.LogPath + "\n")
	}
	b.WriteString("\n" + muted.Render("The certificate is self-signed; accept it in the browser on first visit.") + "\n")
	return b.String()
}

// RenderStop formats the outcome of a stop.
func RenderStop(res lifecycle.Result) string {
	if res.Status == lifecycle.NotRunning {
		return renderWarn("not running") + "\n"
	}
	return renderOK(fmt.Sprintf("stopped (service %d, proxy %d, watchdog %d)",
		res.Record.ServicePID, res.Record.ProxyPID, res.Record.MonitorPID)) + "\n"
}

// RenderReport formats a status report.
func RenderReport(rep lifecycle.Report) string {
	var b strings.Builder
	b.WriteString(header.Render("Session") + "\n")
	b.WriteString(label("State") + stateText(rep) + "\n")
	if rep.SessionID != "" {
		b.WriteString(label("ID") + rep.SessionID + "\n")
	}
	if !rep.StartedAt.IsZero() {
		b.WriteString(label("Since") + rep.StartedAt.Local().Format(time.DateTime) + "\n")
	}
	b.WriteString(label("Data") + rep.DataDir + "\n")

	if len(rep.Processes) > 0 {
		b.WriteString("\n" + header.Render("Processes") + "\n")
		for _, p := range rep.Processes {
			line := fmt.Sprintf("%-8s pid %d", p.Role, p.PID)
			if p.Alive {
				if !p.StartedAt.IsZero() {
					line += muted.Render("  up " + time.Since(p.StartedAt).Truncate(time.Second).String())
				}
				b.WriteString(renderOK(line) + "\n")
			} else {
				b.WriteString(renderErr(line+" (not running)") + "\n")
			}
		}
	}

	if len(rep.Events) > 0 {
		b.WriteString("\n" + header.Render("Recent events") + "\n")
		for _, e := range rep.Events {
			line := e.OccurredAt.Local().Format(time.DateTime) + "  " + string(e.Type)
			if e.Role != "" {
				line += " " + e.Role
			}
			if e.PID != 0 {
				line += fmt.Sprintf(" pid %d", e.PID)
			}
			if e.Detail != "" {
				line += muted.Render("  " + e.Detail)
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

func stateText(rep lifecycle.Report) string {
	switch rep.State {
	case registry.Active:
		if rep.Running() {
			return statusOK.Render("running")
		}
		return statusWarn.Render("degraded")
	case registry.StopRequested:
		return statusWarn.Render("stopped")
	}
	return muted.Render("not running")
}
