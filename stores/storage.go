package stores

import (
	"github.com/sirupsen/logrus"

	"invitecanvas/config"
	"invitecanvas/core"
	"invitecanvas/stores/aws"
	"invitecanvas/stores/filesystem"
	"invitecanvas/stores/memory"
	"invitecanvas/stores/sqlite"
)

// Store is a union interface that includes all store types.
type Store interface {
	core.TemplateStore
	core.GuestStore
}

// GetStore opens the backend named by cfg.StorageType. Unknown types fall
// back to memory.
func GetStore(cfg config.Config) Store {
	var store Store

	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	switch cfg.StorageType {
	case "filesystem":
		storageField["basePath"] = cfg.LocalStoragePath
		store = filesystem.NewStore(cfg.LocalStoragePath)
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store = sqlite.NewStore(cfg.DataSourceName)
	case "s3":
		if cfg.S3BucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = cfg.S3BucketName
		store = aws.NewStore(cfg.S3BucketName)
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
