package collab

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"UProject/logger"
	"UProject/module/chat/model"
	"UProject/service/natsx"
)

// Publisher is the slice of natsx.Manager the deleter needs.
type Publisher interface {
	RegisterRoute(r natsx.Route) error
	Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error
}

// DeleteFilesRequest is the payload storage units consume.
type DeleteFilesRequest struct {
	FileRefs []string `json:"fileRefs"`
}

// FileDeleter tells the storage unit to drop freed blob references. Fire
// and forget: storage reconciles missing refs on its own schedule, so a
// lost publish costs garbage, not correctness.
type FileDeleter struct {
	pub    Publisher
	biz    string
	source model.UnitID
}

func NewFileDeleter(pub Publisher, dest, source model.UnitID) (*FileDeleter, error) {
	biz := "delete_files:" + string(dest)
	err := pub.RegisterRoute(natsx.Route{
		Biz:     biz,
		Subject: natsx.UnitSubject(dest, natsx.OpDeleteFiles),
		Mode:    natsx.Core,
	})
	if err != nil {
		return nil, err
	}
	return &FileDeleter{pub: pub, biz: biz, source: source}, nil
}

func (d *FileDeleter) Delete(refs []string) {
	if len(refs) == 0 {
		return
	}
	data, err := json.Marshal(DeleteFilesRequest{FileRefs: refs})
	if err != nil {
		logger.Log.Error("marshal delete files", zap.Error(err))
		return
	}
	hdr := map[string]string{natsx.HeaderSourceUnit: string(d.source)}
	if err := d.pub.Publish(context.Background(), d.biz, data, hdr); err != nil {
		logger.Log.Warn("delete files publish failed",
			zap.Int("refs", len(refs)), zap.Error(err))
	}
}
