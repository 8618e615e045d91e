// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/usbsas/usbsas/lib/config"
	"github.com/usbsas/usbsas/lib/spawn"
	"github.com/usbsas/usbsas/lib/workerproc"
)

// workerRoster holds one long-lived [workerproc.Client] per worker
// binary needed for the configured destinations, plus the spawned
// children so End/Close can release them. Workers are spawned eagerly
// at supervisor startup, not per transfer: a worker's own state machine (not this
// roster) enforces that it only accepts a fresh request sequence once
// its previous one has ended.
type workerRoster struct {
	usbdev        *workerproc.Client
	scsi2files    *workerproc.Client
	files2tar     *workerproc.Client
	tar2files     *workerproc.Client
	files2fs      *workerproc.Client
	fs2dev        *workerproc.Client
	analyzer      *workerproc.Client // nil unless cfg.Analyzer set
	uploader      *workerproc.Client // nil unless cfg.Networks set
	downloader    *workerproc.Client // nil unless cfg.SourceNetwork set
	cmdexec       *workerproc.Client // nil unless cfg.Command or cfg.PostCopy set
	identificator *workerproc.Client

	entries []rosterEntry
}

// rosterEntry pairs one spawned worker's client with its process
// handle, so [workerRoster.Close] can signal every worker first and
// only then wait on (or kill) each process individually.
type rosterEntry struct {
	client *workerproc.Client
	child  *spawn.Child
}

// binary names, matching the cmd/ directories.
const (
	binUsbdev        = "usbsas-usbdev"
	binScsi2files    = "usbsas-scsi2files"
	binFiles2tar     = "usbsas-files2tar"
	binTar2files     = "usbsas-tar2files"
	binFiles2fs      = "usbsas-files2fs"
	binFs2dev        = "usbsas-fs2dev"
	binAnalyzer      = "usbsas-analyzer"
	binUploader      = "usbsas-uploader"
	binDownloader    = "usbsas-downloader"
	binCmdexec       = "usbsas-cmdexec"
	binIdentificator = "usbsas-identificator"
)

// spawnRoster starts every worker the configuration will need. On any
// failure it closes the workers already spawned before returning the
// error: a half-started roster is never handed back to the caller.
func spawnRoster(cfg *config.Config) (*workerRoster, error) {
	r := &workerRoster{}

	required := []string{binUsbdev, binScsi2files, binFiles2tar, binTar2files, binFiles2fs, binFs2dev, binIdentificator}
	if cfg.Analyzer != nil {
		required = append(required, binAnalyzer)
	}
	if len(cfg.Networks) > 0 {
		required = append(required, binUploader)
	}
	if cfg.SourceNetwork != nil {
		required = append(required, binDownloader)
	}
	if cfg.Command != nil || cfg.PostCopy != nil {
		required = append(required, binCmdexec)
	}

	for _, name := range required {
		client, err := r.spawnOne(name, cfg)
		if err != nil {
			r.Close(time.Duration(cfg.EffectiveTimeouts().KillGrace))
			return nil, err
		}
		switch name {
		case binUsbdev:
			r.usbdev = client
		case binScsi2files:
			r.scsi2files = client
		case binFiles2tar:
			r.files2tar = client
		case binTar2files:
			r.tar2files = client
		case binFiles2fs:
			r.files2fs = client
		case binFs2dev:
			r.fs2dev = client
		case binAnalyzer:
			r.analyzer = client
		case binUploader:
			r.uploader = client
		case binDownloader:
			r.downloader = client
		case binCmdexec:
			r.cmdexec = client
		case binIdentificator:
			r.identificator = client
		}
	}
	return r, nil
}

func (r *workerRoster) spawnOne(name string, cfg *config.Config) (*workerproc.Client, error) {
	path, err := config.BinaryPath(name)
	if err != nil {
		return nil, fmt.Errorf("supervisor: locating %s: %w", name, err)
	}
	child, err := spawn.Spawner{BinPath: path, Env: cfg.TimeoutEnvVars(name)}.Spawn()
	if err != nil {
		return nil, fmt.Errorf("supervisor: spawning %s: %w", name, err)
	}
	client := workerproc.NewClient(child.RequestOut, child.ResponseIn)
	r.entries = append(r.entries, rosterEntry{client: client, child: child})
	return client, nil
}

// Close shuts down every spawned worker: it fires an End request at
// every one of them concurrently (signal all) rather than waiting on
// each in turn, so one worker stuck mid-request doesn't delay the End
// reaching the others. It then joins all of them, giving each up to
// grace to acknowledge before moving on to [spawn.Child.Shutdown],
// which kills anything still running via SIGTERM then SIGKILL rather
// than waiting on it forever.
func (r *workerRoster) Close(grace time.Duration) {
	var wg sync.WaitGroup
	for _, e := range r.entries {
		wg.Add(1)
		go func(e rosterEntry) {
			defer wg.Done()
			endDone := make(chan struct{})
			go func() {
				e.client.End()
				close(endDone)
			}()
			select {
			case <-endDone:
			case <-time.After(grace):
			}
			e.child.Shutdown(grace)
		}(e)
	}
	wg.Wait()
}
