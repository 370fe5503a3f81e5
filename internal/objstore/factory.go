package objstore

import (
	"context"
	"fmt"
	"os"

	"froster-go/internal/config"
	"froster-go/internal/froster"
)

// NewFromProfile builds the real adapter and its Target from a config
// profile. The AWS_PROFILE env var overrides the configured credential
// profile, matching the SDK and rclone conventions.
func NewFromProfile(ctx context.Context, name string, p config.Profile, tools config.ToolsConfig, idgen froster.IDGenerator, logger froster.Logger) (*Store, froster.Target, error) {
	if p.Bucket == "" {
		return nil, froster.Target{}, fmt.Errorf("%w: profile %q has no bucket", froster.ErrConfigMissing, name)
	}

	credProfile := p.CredentialProfile
	if env := os.Getenv("AWS_PROFILE"); env != "" {
		credProfile = env
	}

	session := Session{
		Provider: p.Provider,
		Profile:  credProfile,
		Endpoint: p.Endpoint,
		Region:   p.Region,
	}

	rclone := NewRclone(tools.Rclone, session, logger)
	mounter := NewMounter(tools.Rclone, tools.Fusermount, session, logger)
	store, err := NewStore(ctx, session, rclone, mounter, idgen, logger)
	if err != nil {
		return nil, froster.Target{}, err
	}

	archiveDir := p.ArchiveDir
	if archiveDir == "" {
		archiveDir = "froster"
	}
	class := froster.StorageClass(p.StorageClass)
	if class == "" {
		class = froster.ClassStandard
	}

	target := froster.Target{
		Provider:     p.Provider,
		Profile:      credProfile,
		Endpoint:     p.Endpoint,
		Region:       p.Region,
		Bucket:       p.Bucket,
		ArchiveDir:   archiveDir,
		StorageClass: class,
		HotClass:     hotClass(p.Provider),
	}
	return store, target, nil
}

// hotClass maps "readable without restore" onto each provider: AWS has
// intelligent tiering, everything else uses its default hot class.
func hotClass(provider string) froster.StorageClass {
	if provider == "aws" {
		return froster.ClassIntelligentTiering
	}
	return froster.ClassStandard
}
