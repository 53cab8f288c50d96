package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseObjectURI(t *testing.T) {
	testCases := []struct {
		raw    string
		want   ObjectLocation
		prefix bool
	}{
		{raw: "gs://palmyra-templates/roles/default.json", want: ObjectLocation{Scheme: SchemeGCS, Bucket: "palmyra-templates", Key: "roles/default.json"}},
		{raw: "s3://palmyra-templates/roles/", want: ObjectLocation{Scheme: SchemeS3, Bucket: "palmyra-templates", Key: "roles/"}, prefix: true},
		{raw: "templates/default.yaml", want: ObjectLocation{Scheme: SchemeFile, Bucket: "templates", Key: "default.yaml"}},
		{raw: "file:///etc/palmyra/", want: ObjectLocation{Scheme: SchemeFile, Bucket: "/etc/palmyra", Key: ""}, prefix: true},
	}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseObjectURI(tc.raw)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.prefix, got.IsPrefix())
		})
	}
}

func TestParseObjectURIRejects(t *testing.T) {
	for _, raw := range []string{"", "ftp://host/x", "gs:///no-bucket"} {
		_, err := ParseObjectURI(raw)
		require.Error(t, err, raw)
	}
}

func TestFetchLocalPrefixAndSingleObject(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{"b":1}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("a: 1\n"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o700))

	ctx := context.Background()
	loc, err := ParseObjectURI(dir + "/")
	require.NoError(t, err)
	bucket, closeFn, err := Open(ctx, loc)
	require.NoError(t, err)
	defer closeFn() // nolint:errcheck

	objects, err := Fetch(ctx, bucket, loc)
	require.NoError(t, err)
	require.Len(t, objects, 2)
	require.Equal(t, "a.yaml", objects[0].Key)
	require.Equal(t, "b.json", objects[1].Key)

	single, err := ParseObjectURI(filepath.Join(dir, "b.json"))
	require.NoError(t, err)
	objects, err = Fetch(ctx, LocalBucket{Dir: single.Bucket}, single)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	require.JSONEq(t, `{"b":1}`, string(objects[0].Body))

	_, err = LocalBucket{Dir: dir}.Read(ctx, "missing.json")
	require.ErrorIs(t, err, ErrObjectNotFound)
}
