package commands

import (
	"context"

	"cachenet/config"

	log "github.com/sirupsen/logrus"
)

// RunUpload ingests a local file into the cache and prints its
// fingerprint, which peers use to fetch it.
func RunUpload(ctx context.Context, cfg *config.Config, path string) {
	s := openStack(cfg)
	defer s.close()

	fileHash, err := s.store.IngestFile(path)
	if err != nil {
		log.Fatalf("Failed to ingest %s: %v", path, err)
	}

	log.Infof("Uploaded %s", path)
	log.Infof("File hash: %s", fileHash)
}
