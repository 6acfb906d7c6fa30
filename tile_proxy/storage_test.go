package tile_proxy

import (
	"context"
	"image/color"
	"io"
	"testing"

	"github.com/GrainArc/MapPack/Transformer"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageKeys(t *testing.T) {
	tile := TileRequest{Projection: Transformer.EPSG3857, Layer: LayerVector, Zoom: 15, Row: 13561, Col: 26077}
	set := TileSet{Projection: Transformer.EPSG4326, Layer: LayerImagery, Zoom: 15}

	assert.Equal(t, "tile/epsg3857/vec/15/13561/26077.jpg", TileKey(tile))
	assert.Equal(t, "bundle/epsg4326/img/15/bundle.jpg", BundleKey(set))
	assert.Equal(t, "bundle/epsg4326/img/15/preview.jpg", PreviewKey(set))
	assert.Equal(t, "geotiff/epsg4326/img/15/bundle.tif", GeoTiffKey(set))
}

func TestTileStorageReadWrite(t *testing.T) {
	ctx := context.Background()
	s := newMemStorage(t)
	data := pngTile(t, color.White)

	_, err := s.ReadTile(ctx, testTile)
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, s.WriteTile(ctx, testTile, data))

	got, err := s.ReadTile(ctx, testTile)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := s.Exists(ctx, TileKey(testTile))
	require.NoError(t, err)
	assert.True(t, ok)

	r, err := s.NewReader(ctx, TileKey(testTile))
	require.NoError(t, err)
	assert.Equal(t, "image/png", r.ContentType())
	assert.Equal(t, int64(len(data)), r.Size())
	r.Close()

	require.NoError(t, s.Delete(ctx, TileKey(testTile)))
	require.NoError(t, s.Delete(ctx, TileKey(testTile)))
	ok, err = s.Exists(ctx, TileKey(testTile))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteObjectAbortsOnError(t *testing.T) {
	ctx := context.Background()
	s := newMemStorage(t)

	err := writeObject(ctx, s, "bundle/x.jpg", "image/jpeg", func(w io.Writer) error {
		w.Write([]byte("partial"))
		return errors.New("encode failed")
	})
	require.EqualError(t, err, "encode failed")

	ok, err := s.Exists(ctx, "bundle/x.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, writeObject(ctx, s, "bundle/y.jpg", "image/jpeg", func(w io.Writer) error {
		_, err := w.Write([]byte("whole"))
		return err
	}))
	data, err := s.ReadAll(ctx, "bundle/y.jpg")
	require.NoError(t, err)
	assert.Equal(t, "whole", string(data))
}
