package api

import (
	"fmt"
	"net/http"
)

// handleMetrics writes a minimal Prometheus exposition.
func (s *Server) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	if s.cfg.Driver != nil {
		m := s.cfg.Driver.Metrics()
		fmt.Fprintf(rw, "# HELP skirmish_tick Last completed simulation tick.\n")
		fmt.Fprintf(rw, "# TYPE skirmish_tick gauge\n")
		fmt.Fprintf(rw, "skirmish_tick %d\n", m.Tick)

		fmt.Fprintf(rw, "# HELP skirmish_units Units in the last published snapshot.\n")
		fmt.Fprintf(rw, "# TYPE skirmish_units gauge\n")
		fmt.Fprintf(rw, "skirmish_units %d\n", m.Units)

		fmt.Fprintf(rw, "# HELP skirmish_step_ms Work time of the last iteration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE skirmish_step_ms gauge\n")
		fmt.Fprintf(rw, "skirmish_step_ms %.3f\n", m.StepMS)

		fmt.Fprintf(rw, "# HELP skirmish_elapsed_seconds Full duration of the last iteration including pacing.\n")
		fmt.Fprintf(rw, "# TYPE skirmish_elapsed_seconds gauge\n")
		fmt.Fprintf(rw, "skirmish_elapsed_seconds %.6f\n", m.ElapsedSeconds)

		fmt.Fprintf(rw, "# HELP skirmish_commands_total Commands applied by the engine.\n")
		fmt.Fprintf(rw, "# TYPE skirmish_commands_total counter\n")
		fmt.Fprintf(rw, "skirmish_commands_total %d\n", m.CommandsTotal)

		fmt.Fprintf(rw, "# HELP skirmish_resets_total Reset commands applied.\n")
		fmt.Fprintf(rw, "# TYPE skirmish_resets_total counter\n")
		fmt.Fprintf(rw, "skirmish_resets_total %d\n", m.ResetsTotal)

		fmt.Fprintf(rw, "# HELP skirmish_slow_ticks_total Iterations whose work exceeded the interval.\n")
		fmt.Fprintf(rw, "# TYPE skirmish_slow_ticks_total counter\n")
		fmt.Fprintf(rw, "skirmish_slow_ticks_total %d\n", m.SlowTicksTotal)
	}

	q := s.cfg.Queue.Stats()
	fmt.Fprintf(rw, "# HELP skirmish_queue_depth Commands waiting in the ingress queue.\n")
	fmt.Fprintf(rw, "# TYPE skirmish_queue_depth gauge\n")
	fmt.Fprintf(rw, "skirmish_queue_depth %d\n", q.Depth)
	fmt.Fprintf(rw, "# HELP skirmish_queue_capacity Ingress queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE skirmish_queue_capacity gauge\n")
	fmt.Fprintf(rw, "skirmish_queue_capacity %d\n", q.Capacity)
	fmt.Fprintf(rw, "# HELP skirmish_queue_commands_total Ingress queue outcomes.\n")
	fmt.Fprintf(rw, "# TYPE skirmish_queue_commands_total counter\n")
	fmt.Fprintf(rw, "skirmish_queue_commands_total{result=%q} %d\n", "accepted", q.Accepted)
	fmt.Fprintf(rw, "skirmish_queue_commands_total{result=%q} %d\n", "rejected", q.Rejected)
	fmt.Fprintf(rw, "skirmish_queue_commands_total{result=%q} %d\n", "drained", q.Drained)

	fmt.Fprintf(rw, "# HELP skirmish_http_rate_limiters Hosts with a live command rate limiter.\n")
	fmt.Fprintf(rw, "# TYPE skirmish_http_rate_limiters gauge\n")
	fmt.Fprintf(rw, "skirmish_http_rate_limiters %d\n", s.limiterCount())

	hs := s.cfg.Hub.Stats()
	fmt.Fprintf(rw, "# HELP skirmish_clients Websocket clients.\n")
	fmt.Fprintf(rw, "# TYPE skirmish_clients gauge\n")
	fmt.Fprintf(rw, "skirmish_clients{state=%q} %d\n", "registered", hs.Registered)
	fmt.Fprintf(rw, "skirmish_clients{state=%q} %d\n", "connected", hs.Connected)
	fmt.Fprintf(rw, "# HELP skirmish_ws_frames_dropped_total Frames dropped because a client was behind.\n")
	fmt.Fprintf(rw, "# TYPE skirmish_ws_frames_dropped_total counter\n")
	fmt.Fprintf(rw, "skirmish_ws_frames_dropped_total %d\n", hs.FramesDropped)
	fmt.Fprintf(rw, "# HELP skirmish_ws_broadcasts_total State broadcasts sent.\n")
	fmt.Fprintf(rw, "# TYPE skirmish_ws_broadcasts_total counter\n")
	fmt.Fprintf(rw, "skirmish_ws_broadcasts_total %d\n", hs.Broadcasts)

	if s.cfg.Index != nil {
		st := s.cfg.Index.Stats()
		fmt.Fprintf(rw, "# HELP skirmish_index_queue_depth Pending tick index writes.\n")
		fmt.Fprintf(rw, "# TYPE skirmish_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "skirmish_index_queue_depth %d\n", st.QueueDepth)
		fmt.Fprintf(rw, "# HELP skirmish_index_ticks_total Tick index outcomes.\n")
		fmt.Fprintf(rw, "# TYPE skirmish_index_ticks_total counter\n")
		fmt.Fprintf(rw, "skirmish_index_ticks_total{result=%q} %d\n", "written", st.WrittenTickTotal)
		fmt.Fprintf(rw, "skirmish_index_ticks_total{result=%q} %d\n", "dropped", st.DropTickTotal)
		fmt.Fprintf(rw, "skirmish_index_ticks_total{result=%q} %d\n", "error", st.WriteErrorTotal)
	}
	if s.cfg.TickLog != nil {
		fmt.Fprintf(rw, "# HELP skirmish_ticklog_lines_total Tick log entries written.\n")
		fmt.Fprintf(rw, "# TYPE skirmish_ticklog_lines_total counter\n")
		fmt.Fprintf(rw, "skirmish_ticklog_lines_total %d\n", s.cfg.TickLog.Lines())
		fmt.Fprintf(rw, "# HELP skirmish_ticklog_errors_total Tick log write failures.\n")
		fmt.Fprintf(rw, "# TYPE skirmish_ticklog_errors_total counter\n")
		fmt.Fprintf(rw, "skirmish_ticklog_errors_total %d\n", s.cfg.TickLog.Errors())
	}
}
