package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ragsync/engine/internal/adapters/driven/rag/azureblob"
	"github.com/ragsync/engine/internal/adapters/driven/rag/fsrag"
	"github.com/ragsync/engine/internal/adapters/driven/rag/mock"
	"github.com/ragsync/engine/internal/adapters/driven/source/filesystem"
	"github.com/ragsync/engine/internal/adapters/driven/source/graph"
	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
)

// BuildSourceAdapter dispatches a source_type/source_config pair (spec §6)
// to one of the engine's concrete Source Adapter packages. It is the
// services.SourceAdapterFactory the composition root hands to the
// orchestrator constructors — the only place in the engine that imports
// every adapter package by name.
func BuildSourceAdapter(sourceType string, config map[string]string) (driven.SourceAdapter, error) {
	switch sourceType {
	case "file_system":
		return filesystem.New(filesystem.Config{
			RootPath:          config["root_path"],
			IncludePatterns:   splitCSV(config["include_patterns"]),
			ExcludePatterns:   splitCSV(config["exclude_patterns"]),
			IncludeExtensions: splitCSV(config["include_extensions"]),
			ExcludeExtensions: splitCSV(config["exclude_extensions"]),
		}), nil

	case "sharepoint", "enterprise_sharepoint", "onedrive":
		return graph.New(graph.Config{
			ClientConfig: graph.ClientConfig{
				TenantID:     config["tenant_id"],
				ClientID:     config["client_id"],
				ClientSecret: config["client_secret"],
			},
			SourceType: sourceType,
			DriveID:    config["drive_id"],
			RootFolder: config["root_folder"],
			Path:       config["path"],
			Recursive:  parseBool(config["recursive"]),
		}), nil

	default:
		return nil, fmt.Errorf("%w: source type %q", domain.ErrUnsupportedType, sourceType)
	}
}

// BuildRAGAdapter dispatches a rag_type/rag_config pair (spec §6) to one of
// the engine's concrete RAG Adapter packages.
func BuildRAGAdapter(ragType string, config map[string]string) (driven.RAGAdapter, error) {
	switch ragType {
	case "mock":
		return mock.New(), nil

	case "file_system_storage":
		storagePath := config["storage_path"]
		if storagePath == "" {
			storagePath = config["root_path"]
		}
		return fsrag.New(fsrag.Config{
			StoragePath:       storagePath,
			KBName:            config["kb_name"],
			CreateDirs:        parseBool(config["create_dirs"]),
			PreserveStructure: parseBool(config["preserve_structure"]),
			MetadataFormat:    fsrag.MetadataFormat(config["metadata_format"]),
		}), nil

	case "azure_blob":
		adapter, err := azureblob.New(azureblob.Config{
			ContainerName:           config["container_name"],
			StorageAccountName:      config["storage_account_name"],
			AuthMethod:              azureblob.AuthMethod(config["auth_method"]),
			TenantID:                config["tenant_id"],
			ClientID:                config["client_id"],
			ClientSecret:            config["client_secret"],
			ConnectionString:        config["connection_string"],
			ManagedIdentityClientID: config["managed_identity_client_id"],
		})
		if err != nil {
			return nil, err
		}
		return adapter, nil

	default:
		return nil, fmt.Errorf("%w: rag type %q", domain.ErrUnsupportedType, ragType)
	}
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(raw string) bool {
	b, _ := strconv.ParseBool(raw)
	return b
}
