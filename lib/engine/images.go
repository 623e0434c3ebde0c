/*
Copyright 2025 Pacewatch Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pacewatch/pacewatch/lib/defaults"
	"github.com/pacewatch/pacewatch/lib/parsers"
	"github.com/pacewatch/pacewatch/lib/storage"
)

// imageJob is one certificate download request.
type imageJob struct {
	host          string
	usedata       string
	bib           string
	url           string
	referer       string
	participantID int64
}

// enqueueImages queues certificate downloads for finished
// participants. A full queue drops the job; the next tick re-offers
// it.
func (e *Engine) enqueueImages(ctx context.Context, m *storage.Marathon, results []crawlResult) {
	if e.cfg.Downloader == nil {
		return
	}
	for _, r := range results {
		if r.bib == "" || !isFinished(r.splits) {
			continue
		}
		referer := BuildURL(m.URLTemplate, r.bib, m.Usedata)
		for _, a := range r.assets {
			if a.Kind != parsers.KindCertificate || a.URL == "" {
				continue
			}
			job := imageJob{
				host:          a.Host,
				usedata:       m.Usedata,
				bib:           r.bib,
				url:           a.URL,
				referer:       referer,
				participantID: r.participantID,
			}
			select {
			case e.imageQueue <- job:
			default:
				e.log.WarnContext(ctx, "image queue full, dropping job",
					"participant_id", r.participantID, "url", a.URL)
			}
		}
	}
}

func (e *Engine) startImageWorkers() {
	if e.cfg.Downloader == nil {
		return
	}
	for range e.cfg.ImageWorkers {
		e.imageWG.Add(1)
		go func() {
			defer e.imageWG.Done()
			for job := range e.imageQueue {
				e.handleImageJob(context.Background(), job)
			}
		}()
	}
}

// stopImageWorkers closes the queue and waits for the workers to drain
// it, bounded by the drain timeout.
func (e *Engine) stopImageWorkers() {
	e.closeOnce.Do(func() { close(e.imageQueue) })
	done := make(chan struct{})
	go func() {
		e.imageWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-e.cfg.Clock.After(defaults.ImageDrainTimeout):
		e.log.Warn("image workers did not drain in time")
	}
}

// handleImageJob downloads one certificate unless the participant
// already has one on disk, then records both the participant's finish
// image and the asset's local path.
func (e *Engine) handleImageJob(ctx context.Context, job imageJob) {
	existing, err := e.cfg.Storage.FinishImagePath(ctx, job.participantID)
	if err == nil && existing != "" {
		if _, statErr := os.Stat(filepath.FromSlash(existing)); statErr == nil {
			return
		}
	}

	saved, err := e.cfg.Downloader.SaveCertificate(ctx,
		job.host, job.usedata, job.bib, job.url, job.referer)
	if err != nil {
		e.log.WarnContext(ctx, "certificate download failed",
			"participant_id", job.participantID, "url", job.url, "error", err)
		return
	}
	if err := e.cfg.Storage.SetFinishImage(ctx, job.participantID, job.url, saved); err != nil {
		e.log.WarnContext(ctx, "failed to record finish image",
			"participant_id", job.participantID, "error", err)
	}
	if err := e.cfg.Storage.SetAssetLocalPath(ctx, job.participantID, parsers.KindCertificate, saved); err != nil {
		e.log.WarnContext(ctx, "failed to record asset path",
			"participant_id", job.participantID, "error", err)
	}
	e.log.InfoContext(ctx, "certificate saved",
		"participant_id", job.participantID, "path", saved)
}
