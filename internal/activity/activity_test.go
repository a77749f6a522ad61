package activity

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cloudia/internal/auth"
	"cloudia/internal/cfo/cfotest"
	"cloudia/internal/record"
	"cloudia/internal/script"
	"cloudia/internal/terminal"
)

func newEnv(t *testing.T, params script.Params) (*script.Env, *cfotest.Server, *bytes.Buffer) {
	t.Helper()
	srv := cfotest.New(t)
	var buf bytes.Buffer
	if params == nil {
		params = script.Params{}
	}
	env := &script.Env{
		Out:      terminal.New(&buf),
		API:      srv.Client("/scripts/_cloudia/activity"),
		User:     &auth.User{ID: "dev@acme.com"},
		Platform: "acme",
		Params:   params,
		Now:      func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) },
		Script:   Script(),
	}
	return env, srv, &buf
}

func TestThisWeek(t *testing.T) {
	cases := []struct {
		day         time.Time
		monday, sun string
	}{
		{time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), "2026-03-09", "2026-03-15"},
		{time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), "2026-03-09", "2026-03-15"},
		{time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), "2026-03-09", "2026-03-15"},
	}
	for _, tc := range cases {
		m, s := thisWeek(tc.day)
		if m != tc.monday || s != tc.sun {
			t.Errorf("Expected %s..%s for %s, got %s..%s", tc.monday, tc.sun, tc.day.Format(dayLayout), m, s)
		}
	}
}

func TestEventsDefaultsAndUpperBound(t *testing.T) {
	env, srv, buf := newEnv(t, nil)
	srv.Seed(eventEntity,
		record.Record{"KeyId": "1", "UserEmail": "dev@acme.com", "Title": "Standup", "Type": "meeting",
			"DateTimeInit": "2026-03-09 09:00:00", "DateTimeEnd": "2026-03-09 09:15:00", "DateInserting": "2026-03-01 10:00:00", "Location": "Room 1"},
		record.Record{"KeyId": "2", "UserEmail": "dev@acme.com", "Title": "Future", "DateInserting": "2026-03-11 10:00:00"},
		record.Record{"KeyId": "3", "UserEmail": "dev@acme.com", "Title": "Holiday", "Type": "other", "DateTimeInit": "2026-03-06", "DateInserting": "2026-03-02"},
	)

	require.NoError(t, events(context.Background(), env))
	out := buf.String()
	require.Contains(t, out, "My events [dev@acme.com] (DateInserting: 2026-02-08 to 2026-03-10):")
	require.Contains(t, out, " 2026-03-09 (Monday)")
	require.Contains(t, out, "   09:00-09:15 [MTG] Standup")
	require.Contains(t, out, "            Location: Room 1")
	require.Contains(t, out, "   All day [EVT] Holiday")
	require.NotContains(t, out, "Future")
	require.Contains(t, out, "Total: 2 events | User: dev@acme.com")

	q := srv.Requests("GET")[0].Query
	require.Equal(t, ">=", q.Get("filter_DateInserting[0]"))
	require.Equal(t, "2026-02-08", q.Get("filter_DateInserting[1]"))
	require.Equal(t, "-DateInserting", q.Get("_order"))
}

func TestEventsEmpty(t *testing.T) {
	env, _, buf := newEnv(t, script.Params{"from": "2026-01-01", "to": "2026-01-31"})
	require.NoError(t, events(context.Background(), env))
	require.Contains(t, buf.String(), "(DateInserting: 2026-01-01 to 2026-01-31)")
	require.True(t, strings.HasSuffix(buf.String(), "Total: 0 events\n"))
}

func TestEvent(t *testing.T) {
	env, _, _ := newEnv(t, nil)
	require.EqualError(t, event(context.Background(), env), "Missing required parameter: id. Usage: _cloudia/activity/event?id=EVENT_KEYID")

	env, srv, buf := newEnv(t, script.Params{"id": "5"})
	require.EqualError(t, event(context.Background(), env), "Event [5] not found")

	srv.Seed(eventEntity, record.Record{"KeyId": "5", "Title": "Review", "Participants": []any{"a@x", "b@x"}, "Notes": "bring laptop"})
	buf.Reset()
	require.NoError(t, event(context.Background(), env))
	out := buf.String()
	require.Contains(t, out, " Participants      : a@x, b@x")
	require.Contains(t, out, " Notes:")
	require.Contains(t, out, " bring laptop")
}

func TestInputs(t *testing.T) {
	env, srv, buf := newEnv(t, script.Params{"task": "T1"})
	srv.Seed(inputEntity,
		record.Record{"KeyId": "1", "UserEmail": "dev@acme.com", "TaskId": "T1", "ProjectId": "web", "DateInput": "2026-03-09", "Hours": 2.5, "TimeSpent": 2, "Description": "Coding"},
		record.Record{"KeyId": "2", "UserEmail": "dev@acme.com", "TaskId": "T1", "ProjectId": "web", "DateInput": "2026-03-10", "Hours": 1},
		record.Record{"KeyId": "3", "UserEmail": "dev@acme.com", "TaskId": "T2", "DateInput": "2026-03-10", "Hours": 4},
	)

	require.NoError(t, inputs(context.Background(), env))
	out := buf.String()
	require.Contains(t, out, "My activity inputs [dev@acme.com] (DateInput: 2026-02-08 to 2026-03-10) task: T1:")
	require.Contains(t, out, " 2026-03-09 (Monday) - Hours: 2.5h | TimeSpent: 2h")
	require.Contains(t, out, " 2026-03-10 (Tuesday) - Hours: 1h")
	require.Contains(t, out, "   [2.50h (spent: 2.00h)] Coding | Project: web")
	require.Contains(t, out, "   [1.00h] (no description) | Project: web")
	require.Contains(t, out, "Total: 2 inputs | Hours: 3.50 | TimeSpent: 2.00")
	require.Contains(t, out, "TimeSpent/Hours ratio: 57.1%")
	require.Less(t, strings.Index(out, "2026-03-10 (Tuesday)"), strings.Index(out, "2026-03-09 (Monday)"))
}

func TestInput(t *testing.T) {
	env, srv, buf := newEnv(t, script.Params{"id": "8"})
	srv.Seed(inputEntity, record.Record{"KeyId": "8", "Hours": 1.5, "Billable": true})
	require.NoError(t, input(context.Background(), env))
	out := buf.String()
	require.Contains(t, out, "Activity Input Details [8]:")
	require.Contains(t, out, " Hours             : 1.50")
	require.Contains(t, out, " Billable          : Yes")
}

func TestSummary(t *testing.T) {
	env, srv, buf := newEnv(t, nil)
	srv.Seed(eventEntity, record.Record{"KeyId": "1", "UserEmail": "dev@acme.com", "DateInserting": "2026-03-09 08:00:00"})
	srv.Seed(inputEntity,
		record.Record{"UserEmail": "dev@acme.com", "ProjectId": "web", "TaskId": "T1", "DateInput": "2026-03-09", "Hours": 2, "TimeSpent": 1},
		record.Record{"UserEmail": "dev@acme.com", "ProjectId": "api", "TaskId": "T2", "DateInput": "2026-03-10", "Hours": 3},
		record.Record{"UserEmail": "dev@acme.com", "ProjectId": "api", "DateInput": "2026-03-20", "Hours": 8},
	)

	require.NoError(t, summary(context.Background(), env))
	out := buf.String()
	require.Contains(t, out, "Period: 2026-03-09 to 2026-03-15 (DateInput)")
	require.Contains(t, out, "   Total events: 1")
	require.Contains(t, out, "   Total Hours logged: 5.00 hours")
	require.Contains(t, out, "   Total TimeSpent: 1.00 hours")
	require.Contains(t, out, "   TimeSpent/Hours ratio: 20.0%")
	require.Contains(t, out, "   Number of entries: 2")
	require.Contains(t, out, "   2026-03-09 (Monday): 2.00h | TimeSpent: 1.00h")
	require.Contains(t, out, "   2026-03-10 (Tuesday): 3.00h")
	require.Less(t, strings.Index(out, "   api "), strings.Index(out, "   web "))
	require.Contains(t, out, " Hours / TimeSpent by Task (top 10):")

	for _, r := range srv.Requests("GET") {
		require.Equal(t, "500", r.Query.Get("cfo_limit"))
	}
}
