// Package archive exports job error logs to object storage as Parquet files.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/storage"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

// ContentType is the content type of uploaded archives.
const ContentType = "application/vnd.apache.parquet"

// ErrorRow is the Parquet row layout of one archived error.
type ErrorRow struct {
	RecordIndex int64  `parquet:"name=record_index, type=INT64"`
	Field       string `parquet:"name=field, type=BYTE_ARRAY, convertedtype=UTF8"`
	Code        string `parquet:"name=code, type=BYTE_ARRAY, convertedtype=UTF8"`
	Tier        string `parquet:"name=tier, type=BYTE_ARRAY, convertedtype=UTF8"`
	Message     string `parquet:"name=message, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value       string `parquet:"name=value, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp   int64  `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// NewErrorRow flattens entry. Value is stored as its JSON encoding.
func NewErrorRow(entry model.ImportError) ErrorRow {
	row := ErrorRow{
		RecordIndex: entry.RecordIndex,
		Field:       entry.Field,
		Code:        string(entry.Code),
		Tier:        string(entry.Tier),
		Message:     entry.Message,
		Timestamp:   entry.Timestamp.UnixMilli(),
	}
	if entry.Value != nil {
		if b, err := json.Marshal(entry.Value); err == nil {
			row.Value = string(b)
		} else {
			row.Value = fmt.Sprint(entry.Value)
		}
	}
	return row
}

// ParquetArchiver writes error logs as Parquet files through a storage connection.
type ParquetArchiver struct {
	resolver    storage.StorageConnectionResolver
	compression parquet.CompressionCodec
}

// NewParquetArchiver creates an archiver. compression is SNAPPY, GZIP or NONE; empty means SNAPPY.
func NewParquetArchiver(resolver storage.StorageConnectionResolver, compression string) (*ParquetArchiver, error) {
	codec, err := compressionCodec(compression)
	if err != nil {
		return nil, err
	}
	return &ParquetArchiver{resolver: resolver, compression: codec}, nil
}

// ArchiveErrors encodes entries and uploads them to bucket/objectName on the storageRef connection.
func (a *ParquetArchiver) ArchiveErrors(ctx context.Context, storageRef, bucket, objectName string, entries []model.ImportError) error {
	conn, err := a.resolver.ResolveStorageConnection(ctx, storageRef)
	if err != nil {
		return exception.NewPermanentError("archive", fmt.Sprintf("failed to resolve storage connection '%s'", storageRef), err)
	}
	data, err := a.Encode(entries)
	if err != nil {
		return err
	}
	if err := conn.Upload(ctx, bucket, objectName, bytes.NewReader(data), ContentType); err != nil {
		return exception.NewTransientError("archive", fmt.Sprintf("failed to upload '%s'", objectName), err)
	}
	logger.Infof("Archived %d errors to '%s' (storage '%s').", len(entries), objectName, storageRef)
	return nil
}

// Encode renders entries as one Parquet file.
func (a *ParquetArchiver) Encode(entries []model.ImportError) (data []byte, err error) {
	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(ErrorRow), 1)
	if err != nil {
		return nil, exception.NewPermanentError("archive", "failed to create parquet writer", err)
	}
	pw.CompressionType = a.compression
	for _, entry := range entries {
		if err := pw.Write(NewErrorRow(entry)); err != nil {
			return nil, exception.NewPermanentError("archive", "failed to write parquet row", err)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, exception.NewPermanentError("archive", fmt.Sprintf("parquet writer panicked: %v", r), nil)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return nil, exception.NewPermanentError("archive", "failed to finalize parquet file", err)
	}
	return buf.Bytes(), nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "", "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "UNCOMPRESSED":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return parquet.CompressionCodec_UNCOMPRESSED, fmt.Errorf("unsupported compression type '%s'", name)
	}
}
