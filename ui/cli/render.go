// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/zjgordon/labportal/internal/model"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// renderTable draws rows under headers with a rounded border.
func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(labelStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fmtTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func fmtExit(code *int) string {
	if code == nil {
		return "-"
	}
	return strconv.Itoa(*code)
}

func fmtOnline(online bool) string {
	if online {
		return onlineStyle.Render("online")
	}
	return offlineStyle.Render("offline")
}

func fmtAllow(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func hostRows(hosts []model.HostSummary) [][]string {
	rows := make([][]string, 0, len(hosts))
	for _, h := range hosts {
		rows = append(rows, []string{h.ID, h.Name, h.Address, h.AgentTokenPrefix + "…", fmtOnline(h.Online), fmtTime(h.LastSeenAt)})
	}
	return rows
}

var hostHeaders = []string{"ID", "NAME", "ADDRESS", "TOKEN", "STATE", "LAST SEEN"}

func serviceRows(svcs []model.ManagedService) [][]string {
	rows := make([][]string, 0, len(svcs))
	for _, s := range svcs {
		rows = append(rows, []string{s.ID, s.HostID, s.UnitName, s.DisplayName, fmtAllow(s.AllowStart), fmtAllow(s.AllowStop), fmtAllow(s.AllowRestart)})
	}
	return rows
}

var serviceHeaders = []string{"ID", "HOST", "UNIT", "NAME", "START", "STOP", "RESTART"}

func actionRows(actions []model.Action) [][]string {
	rows := make([][]string, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, []string{a.ID, a.HostID, a.UnitName, string(a.Kind), string(a.Status), fmtTime(&a.RequestedAt), fmtTime(a.FinishedAt), fmtExit(a.ExitCode)})
	}
	return rows
}

var actionHeaders = []string{"ID", "HOST", "UNIT", "KIND", "STATUS", "REQUESTED", "FINISHED", "EXIT"}

// renderDiagnostics renders the diagnostics snapshot for a terminal.
func renderDiagnostics(d model.Diagnostics) string {
	counts := lipgloss.JoinHorizontal(lipgloss.Top,
		stat("queued", d.Queued),
		stat("running", d.Running),
		stat("succeeded", d.Succeeded),
		stat("failed", d.Failed),
	)
	out := titleStyle.Render("labPortal diagnostics") + " " + labelStyle.Render(fmtTime(&d.GeneratedAt)) + "\n\n" + counts + "\n\n"
	out += titleStyle.Render("Hosts") + "\n"
	if len(d.Hosts) == 0 {
		out += labelStyle.Render("no hosts registered") + "\n"
	} else {
		out += renderTable(hostHeaders, hostRows(d.Hosts)) + "\n"
	}
	out += "\n" + titleStyle.Render("Recent failures") + "\n"
	if len(d.RecentFailures) == 0 {
		out += labelStyle.Render("none") + "\n"
	} else {
		out += renderTable(actionHeaders, actionRows(d.RecentFailures)) + "\n"
	}
	return out
}

func stat(label string, n int) string {
	box := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 2).MarginRight(1)
	return box.Render(fmt.Sprintf("%s\n%s", labelStyle.Render(label), lipgloss.NewStyle().Bold(true).Render(strconv.Itoa(n))))
}
