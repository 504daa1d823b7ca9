package upload

import (
	"context"
	"io"

	"github.com/nicktill/beacon/pkg/sdk/request"
	"github.com/nicktill/beacon/pkg/sdk/transport"
)

// UploadPicture posts a user picture right away, outside the queues. A
// dirty profile rides along as user_details and is marked delivered when
// the collector accepts the picture.
func (e *Engine) UploadPicture(ctx context.Context, picture io.Reader) bool {
	ps, ok := e.sender.(transport.PictureSender)
	if !ok {
		e.log.Warn().Msg("transport cannot upload pictures")
		return false
	}

	e.mu.Lock()
	payload, rev, withProfile := e.profilePayloadLocked()
	e.mu.Unlock()

	extra := request.NewParams().Set("user_details", payload)
	path := request.WithChecksum(request.Render(e.Base(), extra), e.config.Salt)

	ctx, cancel := context.WithTimeout(ctx, e.config.SendTimeout)
	defer cancel()

	res, err := ps.SendPicture(ctx, path, picture)
	if err != nil {
		e.log.Warn().Err(err).Msg("picture upload failed")
		return false
	}
	if !res.Success() {
		e.log.Warn().Int("status", res.StatusCode).Msg("picture not accepted")
		return false
	}

	if withProfile {
		e.mu.Lock()
		e.clearProfileLocked(ctx, rev)
		e.mu.Unlock()
	}
	e.log.Debug().Bool("with_profile", withProfile).Msg("picture uploaded")
	return true
}
