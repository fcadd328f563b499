package httprouter

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"dvzoll/internal/consts"
	"dvzoll/internal/errs"
	"dvzoll/internal/infrastructure/delivery/http/middleware"
	"dvzoll/internal/infrastructure/delivery/http/request"
	"dvzoll/internal/infrastructure/delivery/http/response"
	"dvzoll/internal/metadata"
	"dvzoll/internal/platform"
	"dvzoll/internal/service"
	"dvzoll/internal/settings"

	"github.com/vfaronov/httpheader"
)

func (r *Router) Download(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("func", "Download"))

	var body metadata.Request

	if err := request.Decode(w, req, &body); err != nil {
		log.DebugContext(req.Context(), "decode body", slog.Any("error", err))
		response.Fail(w, http.StatusBadRequest, consts.RespMetaInvalidURL)

		return
	}

	ctx, cancel := r.timeout(req.Context())
	defer cancel()

	res, err := r.deps.Metadata.Resolve(ctx, body)

	switch {
	case err == nil:
		response.Raw(w, http.StatusOK, res)
	case errors.Is(err, errs.ErrInvalidURL):
		response.Fail(w, http.StatusBadRequest, consts.RespMetaInvalidURL)
	case errors.Is(err, errs.ErrInvalidMode):
		response.Fail(w, http.StatusBadRequest, consts.RespMetaInvalidMode)
	case errors.Is(err, errs.ErrUnsupportedPlatform):
		response.Fail(w, http.StatusBadRequest, consts.RespMetaUnsupported)
	default:
		log.ErrorContext(ctx, "resolve metadata", slog.Any("error", err))
		response.Fail(w, http.StatusInternalServerError, consts.RespMetaFailed)
	}
}

// Classify returns the cosmetic platform preview of ?url=.
func (r *Router) Classify(w http.ResponseWriter, req *http.Request) {
	raw := req.URL.Query().Get("url")

	preview, ok := platform.Classify(raw)
	if !ok {
		response.UnprocessableEntity(w, consts.RespUnprocessable, errs.ErrInvalidURL)

		return
	}

	response.OK(w, consts.RespURLClassified, preview, nil)
}

func (r *Router) SubmitRecord(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("func", "SubmitRecord"))
	userID, _ := middleware.UserID(req.Context())

	var body service.Submission

	if err := request.Decode(w, req, &body); err != nil {
		response.HistoryError(w, http.StatusBadRequest, consts.RespInvalidBody)

		return
	}

	ctx, cancel := r.timeout(req.Context())
	defer cancel()

	rec, err := r.deps.History.Submit(ctx, userID, body)
	if err == nil {
		response.Raw(w, http.StatusAccepted, response.NewSubmitted(rec, consts.RespRecordAccepted))

		return
	}

	var rej *service.Rejection

	switch {
	case errors.As(err, &rej) && errors.Is(err, errs.ErrRateLimited):
		if !rej.RetryAfter.IsZero() {
			httpheader.SetRetryAfter(w.Header(), rej.RetryAfter.UTC().Truncate(time.Second))
		}

		response.HistoryError(w, http.StatusTooManyRequests, rej.Message)
	case errors.As(err, &rej):
		response.HistoryError(w, http.StatusBadRequest, rej.Message)
	case errors.Is(err, errs.ErrQueueFull), errors.Is(err, errs.ErrServiceClosed):
		log.WarnContext(ctx, "record not queued", slog.Any("error", err))
		response.HistoryError(w, http.StatusServiceUnavailable, consts.RespCreateFailed)
	default:
		log.ErrorContext(ctx, "submit record", slog.Any("error", err))
		response.HistoryError(w, http.StatusInternalServerError, consts.RespCreateFailed)
	}
}

func (r *Router) ListHistory(w http.ResponseWriter, req *http.Request) {
	userID, _ := middleware.UserID(req.Context())

	ctx, cancel := r.timeout(req.Context())
	defer cancel()

	records, err := r.deps.History.List(ctx, userID)
	if err != nil {
		r.log.ErrorContext(ctx, "list history", slog.Any("error", err))
		response.HistoryError(w, http.StatusInternalServerError, consts.RespHistoryFailed)

		return
	}

	response.Raw(w, http.StatusOK, response.NewHistory(records))
}

func (r *Router) GetSettings(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, consts.RespSettingsRetrieved, r.deps.Settings.Get(), nil)
}

func (r *Router) PatchSettings(w http.ResponseWriter, req *http.Request) {
	var patch request.SettingsPatch

	if err := request.Decode(w, req, &patch); err != nil {
		response.BadRequest(w, consts.RespInvalidBody, err)

		return
	}

	if err := patch.Validate(); err != nil {
		response.UnprocessableEntity(w, consts.RespUnprocessable, err)

		return
	}

	response.OK(w, consts.RespSettingsUpdated, r.deps.Settings.Update(settings.Patch(patch)), nil)
}

func (r *Router) GetTools(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := r.timeout(req.Context())
	defer cancel()

	response.OK(w, consts.RespToolsChecked, r.deps.Tools.CheckToolsInstalled(ctx), nil)
}

// SubmitAttempt starts an attempt. ?restart=true replaces a running one.
func (r *Router) SubmitAttempt(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("func", "SubmitAttempt"))

	var body request.Attempt

	if err := request.Decode(w, req, &body); err != nil {
		response.BadRequest(w, consts.RespInvalidBody, err)

		return
	}

	submit := r.deps.Attempts.Submit
	if req.URL.Query().Get("restart") == "true" {
		submit = r.deps.Attempts.Restart
	}

	att, err := submit(req.Context(), body.ToRequest())

	switch {
	case err == nil:
		response.Accepted(w, consts.RespAttemptStarted, att, nil)
	case errors.Is(err, errs.ErrAttemptInProgress):
		response.Conflict(w, consts.RespAttemptInProgress, r.deps.Attempts.Snapshot(), err)
	case errors.Is(err, errs.ErrServiceClosed):
		response.ServiceUnavailable(w, consts.RespServiceClosed, err)
	case isValidation(err):
		response.UnprocessableEntity(w, consts.RespUnprocessable, err)
	default:
		log.ErrorContext(req.Context(), "submit attempt", slog.Any("error", err))
		response.InternalServerError(w, consts.RespAttemptFailed, nil, nil)
	}
}

func (r *Router) GetAttempt(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, consts.RespAttemptRetrieved, r.deps.Attempts.Snapshot(), nil)
}

func (r *Router) CancelAttempt(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, consts.RespAttemptCancelled, r.deps.Attempts.Cancel(), nil)
}

func isValidation(err error) bool {
	for _, target := range []error{
		errs.ErrInvalidURL,
		errs.ErrInvalidMode,
		errs.ErrInvalidQuality,
		errs.ErrModeNotSupported,
		errs.ErrUnsupportedPlatform,
		errs.ErrInvalidTrackCount,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
