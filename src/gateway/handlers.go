package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MohamedLahlami/SafeOps/src/contracts"
)

// handleWebhook returns the handler for one ingestion route. A non-empty
// pinned provider overrides header-based classification, so the dedicated
// /webhook/github and /webhook/gitlab routes tag records even when the
// sender omits its signature header.
func (s *Server) handleWebhook(pinned contracts.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unable to read request body"})
			return
		}
		if len(body) > maxBodySize {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large"})
			return
		}

		result := s.verifier.Verify(r.Header, body)
		prov := result.Provider
		if pinned != "" {
			prov = pinned
		}

		if !result.Valid && s.cfg.StrictSignatures {
			// Rejected requests still leave an audit record; only the
			// enrich/publish pipeline is withheld from them.
			if _, err := s.audit.StoreRawLog(r.Context(), body, prov, false, clientIP(r), time.Now().UTC()); err != nil {
				s.log.Error("audit store write failed for rejected webhook", zap.Error(err))
			}
			s.log.Warn("rejecting webhook: invalid signature",
				zap.String("provider", string(prov)),
				zap.Bool("unsigned", result.Unsigned),
				zap.String("remote_addr", r.RemoteAddr))
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid signature"})
			return
		}
		if result.Unsigned && result.Valid {
			s.log.Warn("accepting unsigned webhook (development mode)",
				zap.String("provider", string(prov)))
		}

		resp := s.process(r.Context(), prov, result.Valid, body, clientIP(r))
		writeJSON(w, http.StatusAccepted, resp)
	}
}

// handleTestWebhook synthesises a completed workflow_run payload from a
// minimal request body and pushes it through the normal pipeline. Lets
// operators exercise enrichment, storage and publishing end to end without
// a real CI provider.
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	var req TestWebhookRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body"})
		return
	}
	if req.Repository == "" || req.RunID <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "repository and run_id are required"})
		return
	}

	payload, err := json.Marshal(map[string]any{
		"action": "completed",
		"workflow_run": map[string]any{
			"id":          req.RunID,
			"status":      "completed",
			"conclusion":  "success",
			"head_branch": "main",
		},
		"repository": map[string]any{
			"full_name": req.Repository,
		},
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	s.log.Info("synthetic test webhook",
		zap.String("repository", req.Repository),
		zap.Int64("run_id", req.RunID))

	resp := s.process(r.Context(), contracts.ProviderTest, true, payload, clientIP(r))
	writeJSON(w, http.StatusAccepted, resp)
}

// process runs the ingestion pipeline for one accepted webhook: enrich,
// store, publish, mark processed. Downstream failures degrade the response
// booleans instead of failing the request.
func (s *Server) process(ctx context.Context, prov contracts.Provider, signatureValid bool,
	body []byte, sourceIP string) WebhookResponse {
	start := time.Now()

	env := contracts.WebhookEnvelope{
		RequestID:      uuid.NewString(),
		Provider:       prov,
		SignatureValid: signatureValid,
		RawPayload:     body,
		ReceivedAt:     start.UTC(),
		SourceIP:       sourceIP,
	}

	var enriched *contracts.RunMetrics
	if f := s.registry.For(env.Provider); f != nil && f.Enabled() {
		m, err := f.FetchMetrics(ctx, env.RawPayload)
		if err != nil {
			s.log.Warn("log enrichment failed",
				zap.String("provider", string(env.Provider)),
				zap.String("request_id", env.RequestID),
				zap.Error(err))
		} else {
			enriched = m
		}
	}

	recordID, err := s.audit.StoreRawLog(ctx, env.RawPayload, env.Provider, env.SignatureValid, env.SourceIP, env.ReceivedAt)
	stored := err == nil
	if err != nil {
		s.log.Error("audit store write failed",
			zap.String("request_id", env.RequestID),
			zap.Error(err))
	}

	msg := contracts.QueueMessage{
		Meta: contracts.Meta{
			RequestID:      env.RequestID,
			Provider:       env.Provider,
			SignatureValid: env.SignatureValid,
			AuditRecordID:  recordID,
			ReceivedAt:     env.ReceivedAt,
			SourceIP:       env.SourceIP,
		},
		Payload:  env.RawPayload,
		Enriched: enriched,
	}
	data, merr := json.Marshal(msg)
	queued := false
	if merr == nil {
		queued = s.publisher.Publish(ctx, env.RequestID, data)
	}
	if !queued {
		s.log.Warn("event not queued",
			zap.String("request_id", env.RequestID),
			zap.String("broker_state", s.publisher.State().String()))
	}

	// Processed means "the gateway finished with this record", not "the
	// publish succeeded": queued=false is already visible in the message
	// meta and the response.
	if stored {
		if err := s.audit.MarkProcessed(ctx, recordID); err != nil {
			s.log.Warn("mark processed failed",
				zap.String("record_id", recordID),
				zap.Error(err))
		}
	}

	resp := WebhookResponse{
		Status:           "accepted",
		RequestID:        env.RequestID,
		Stored:           stored,
		Queued:           queued,
		LogsFetched:      enriched != nil,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	if enriched != nil {
		resp.BuildID = enriched.BuildID
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady reports 200 only when both the audit store and the broker
// are reachable, for load balancers that should drain a degraded instance.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	storeUp := s.audit.Connected(r.Context())
	brokerUp := s.publisher.Connected()

	resp := ReadyResponse{
		Status: "ready",
		Broker: connState(brokerUp),
		Store:  connState(storeUp),
	}
	status := http.StatusOK
	if !storeUp || !brokerUp {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.audit.Stats(r.Context())
	if err != nil {
		s.log.Error("stats query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Audit:  stats,
		Broker: s.publisher.State().String(),
	})
}

func connState(up bool) string {
	if up {
		return "connected"
	}
	return "disconnected"
}
