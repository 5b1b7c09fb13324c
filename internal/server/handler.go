package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/joelsemar/django-webservice-tools/internal/audio/codec"
	audioconfig "github.com/joelsemar/django-webservice-tools/internal/audio/config"
	"github.com/joelsemar/django-webservice-tools/internal/audio/convert"
	"github.com/joelsemar/django-webservice-tools/internal/audio/decoder"
	"github.com/joelsemar/django-webservice-tools/internal/audio/outbuf"
	"github.com/joelsemar/django-webservice-tools/internal/audio/pipeline"
	"github.com/joelsemar/django-webservice-tools/internal/metrics"
	"github.com/joelsemar/django-webservice-tools/pkg/config"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// transcode handles POST /v1/transcode. The body is the source stream; query
// parameters override the configured defaults:
//
//	mode        frame duration in ms (20 or 30)
//	from, to    codec names
//	format      sample layout of raw input
//	out_format  sample layout of raw output
func (s *Server) transcode(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r)
	session, tc, err := s.openSession(r, nil)
	if err != nil {
		s.fail(w, log, err)
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.HTTP.MaxBodyBytes)
	if _, err := io.Copy(session, body); err != nil {
		_ = session.Close()
		s.fail(w, log, err)
		return
	}
	out, err := session.Finish()
	if err != nil {
		s.fail(w, log, err)
		return
	}

	st := session.Stats()
	contentType := "application/octet-stream"
	if target, err := audioconfig.Lookup(tc.To); err == nil {
		contentType = target.MimeType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.Header().Set("X-Transcode-Frames", strconv.Itoa(st.FramesEncoded))
	w.Header().Set("X-Transcode-Padded", strconv.Itoa(st.PaddedSamples))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

// openStream opens the session behind a WebSocket stream.
func (s *Server) openStream(r *http.Request, sink pipeline.ChunkSink) (*pipeline.Session, error) {
	session, _, err := s.openSession(r, sink)
	return session, err
}

func (s *Server) streamError(w http.ResponseWriter, r *http.Request, err error) {
	s.fail(w, s.requestLog(r), err)
}

func (s *Server) requestLog(r *http.Request) zerolog.Logger {
	return s.log.With().Str("request_id", requestIDFrom(r.Context())).Logger()
}

// openSession starts a session configured from the request query.
func (s *Server) openSession(r *http.Request, sink pipeline.ChunkSink) (*pipeline.Session, config.TranscodeConfig, error) {
	tc, err := s.requestConfig(r)
	if err != nil {
		return nil, tc, err
	}
	codecOpts, err := tc.CodecOptions()
	if err != nil {
		return nil, tc, badRequest(err)
	}
	inFormat, err := convert.ParseSampleFormat(tc.InputFormat)
	if err != nil {
		return nil, tc, badRequest(err)
	}

	sizeHint := 0
	if r.ContentLength > 0 && r.ContentLength <= s.cfg.HTTP.MaxBodyBytes {
		sizeHint = int(r.ContentLength)
	}
	log := s.requestLog(r)
	session, err := pipeline.NewSession(tc.FrameMode(), pipeline.Options{
		Codecs:          codec.NewFactory(codecOpts, log),
		InputFormat:     inFormat,
		SizeHint:        sizeHint,
		ExpansionFactor: tc.ExpansionFactor,
		MaxOutputBytes:  tc.MaxOutputBytes,
		ID:              requestIDFrom(r.Context()),
		Logger:          &log,
		Sink:            sink,
		Observer:        metrics.SessionObserver{},
	})
	return session, tc, err
}

// requestConfig applies query overrides to the configured defaults.
func (s *Server) requestConfig(r *http.Request) (config.TranscodeConfig, error) {
	tc := s.cfg.Transcode
	q := r.URL.Query()
	if v := q.Get("mode"); v != "" {
		mode, err := audioconfig.ParseMode(v)
		if err != nil {
			return tc, err
		}
		tc.Mode = int(mode)
	}
	if v := q.Get("from"); v != "" {
		tc.From = v
	}
	if v := q.Get("to"); v != "" {
		tc.To = v
	}
	if v := q.Get("format"); v != "" {
		tc.InputFormat = v
	}
	if v := q.Get("out_format"); v != "" {
		tc.OutputFormat = v
	}
	return tc, nil
}

func (s *Server) fail(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("transcode failed")
	} else {
		log.Info().Err(err).Int("status", status).Msg("transcode rejected")
	}
	writeError(w, status, err.Error())
}

// errBadRequest marks request parameters that failed to parse.
var errBadRequest = errors.New("bad request")

func badRequest(err error) error {
	return fmt.Errorf("%w: %w", errBadRequest, err)
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, audioconfig.ErrInvalidMode):
		return http.StatusBadRequest
	case errors.Is(err, codec.ErrEncoderUnavailable),
		errors.Is(err, codec.ErrDecoderUnavailable),
		errors.Is(err, pipeline.ErrTruncatedFrame),
		errors.Is(err, pipeline.ErrPartialSample),
		errors.Is(err, decoder.ErrBadFrame):
		return http.StatusUnprocessableEntity
	case errors.Is(err, outbuf.ErrAllocation), errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
