package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"attacher/internal/modules/attach/domain"
	"attacher/internal/modules/attach/dto"
	"attacher/internal/platform/checksum"
)

func (s *AttachService) ListControllers(ctx context.Context) ([]dto.ControllerInfo, error) {
	infos, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]dto.ControllerInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, dto.ControllerInfo{Name: info.Name, Source: string(info.Source), Detail: info.Detail})
	}
	return out, nil
}

// Doctor checks every configured controller plugin without attaching to anything.
func (s *AttachService) Doctor(ctx context.Context) ([]dto.DoctorResult, error) {
	if s.store == nil {
		return []dto.DoctorResult{}, nil
	}
	manifests, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]dto.DoctorResult, 0, len(manifests))
	for _, m := range manifests {
		result := dto.DoctorResult{Name: m.Name}
		if err := m.Validate(); err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		for _, c := range m.Capabilities {
			result.Capabilities = append(result.Capabilities, string(c))
		}
		binaryOK := fileExists(m.Binary)
		result.BinaryReachable = binaryOK
		checksumOK := false
		if binaryOK {
			checksumOK = checksumMatches(m.Binary, m.SHA256) == nil
		}
		result.ChecksumValid = checksumOK
		if binaryOK && checksumOK && m.Enabled && s.host != nil {
			if err := s.host.CheckLifecycle(ctx, m); err != nil {
				result.Error = err.Error()
			} else {
				result.LifecycleOK = true
			}
		}
		if !binaryOK {
			result.Error = fmt.Sprintf("binary does not exist: %s", m.Binary)
		}
		if binaryOK && !checksumOK {
			result.Error = "checksum mismatch"
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *AttachService) History(ctx context.Context, limit int) ([]dto.RunInfo, error) {
	if s.journal == nil {
		return nil, fmt.Errorf("run journal is disabled")
	}
	if limit <= 0 {
		limit = 20
	}
	records, err := s.journal.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]dto.RunInfo, 0, len(records))
	for _, r := range records {
		out = append(out, dto.RunInfo{
			ID:             r.ID,
			ControllerType: r.ControllerType,
			ProcessID:      r.ProcessID,
			ExtensionPath:  r.ExtensionPath,
			Mode:           string(r.Mode),
			HasArgument:    r.HasArgument,
			State:          string(r.State),
			Failure:        string(r.Failure),
			Error:          r.Error,
			StartedAt:      r.StartedAt,
			FinishedAt:     r.FinishedAt,
		})
	}
	return out, nil
}

func checksumMatches(path string, expected string) error {
	actual, err := checksum.File(path)
	if err != nil {
		return fmt.Errorf("read controller binary: %w", err)
	}
	if actual != expected {
		return fmt.Errorf("%w: %s", domain.ErrChecksumMismatch, filepath.Base(path))
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
