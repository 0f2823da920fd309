package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"voxelstream.ai/internal/persistence/bucket"
)

// buildMirror returns nil unless VS_MIRROR is set. Snapshots and rotated request
// logs are then copied to the configured bucket.
func buildMirror(dataDir string, logger *log.Logger) (*bucket.Mirror, error) {
	if !envBool("VS_MIRROR", false) {
		return nil, nil
	}
	endpoint := strings.TrimSpace(os.Getenv("VS_MIRROR_ENDPOINT"))
	name := strings.TrimSpace(os.Getenv("VS_MIRROR_BUCKET"))
	creds := bucket.Credentials{
		AccessKeyID:     os.Getenv("VS_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("VS_MIRROR_SECRET_ACCESS_KEY"),
	}
	if endpoint == "" || name == "" {
		return nil, fmt.Errorf("VS_MIRROR=true but VS_MIRROR_ENDPOINT/VS_MIRROR_BUCKET are not set")
	}
	client, err := bucket.NewClient(endpoint, name, os.Getenv("VS_MIRROR_REGION"), creds)
	if err != nil {
		return nil, err
	}
	return bucket.NewMirror(client, bucket.MirrorConfig{
		DataDir: dataDir,
		Prefix:  os.Getenv("VS_MIRROR_PREFIX"),
		Workers: envInt("VS_MIRROR_WORKERS", 2),
		Logger:  logger,
	}), nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
