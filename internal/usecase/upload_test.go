package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"fingenie/internal/domain"
	"fingenie/internal/integrations/queryservice"
)

type fakeSubmitter struct {
	res   domain.UploadResult
	err   error
	calls []string
}

func (f *fakeSubmitter) SubmitDataset(_ context.Context, file domain.DatasetFile) (domain.UploadResult, error) {
	f.calls = append(f.calls, file.Name)
	return f.res, f.err
}

func csvFile(name string) domain.DatasetFile {
	const body = "Securities ID,Book Value\nSEC-9,1250000.5\n"
	return domain.DatasetFile{Name: name, Content: strings.NewReader(body), Size: int64(len(body))}
}

func newTestUploader(t *testing.T, client DatasetSubmitter, notices NoticeSink) *Uploader {
	t.Helper()
	u, err := NewUploader(client, notices, nil)
	require.NoError(t, err)
	return u
}

func TestNewUploader_NilClient(t *testing.T) {
	_, err := NewUploader(nil, nil, nil)
	require.ErrorContains(t, err, "must not be nil")
}

func TestUpload_SuccessSetsActiveDataset(t *testing.T) {
	client := &fakeSubmitter{res: domain.UploadResult{Message: "ok", DBPath: "/tmp/abc.db"}}
	notices := NewNoticeQueue(0)
	store := &fakeStore{}

	res, err := newTestUploader(t, client, notices).Upload(context.Background(), store, csvFile("holdings.csv"))
	require.NoError(t, err)
	require.Equal(t, "/tmp/abc.db", res.DBPath)

	handle, ok := store.ActiveDataset(context.Background())
	require.True(t, ok)
	require.Equal(t, "/tmp/abc.db", handle)

	got := notices.Drain()
	require.Len(t, got, 1)
	require.Equal(t, "File uploaded successfully!", got[0].Title)
	require.Equal(t, "Processing your financial dataset...", got[0].Description)
	require.Equal(t, domain.NoticeDefault, got[0].Variant)
}

func TestUpload_ExtensionsAreCaseInsensitive(t *testing.T) {
	for _, name := range []string{"a.CSV", "b.xlsx", "c.XLS"} {
		client := &fakeSubmitter{res: domain.UploadResult{DBPath: "/tmp/x.db"}}
		_, err := newTestUploader(t, client, nil).Upload(context.Background(), &fakeStore{}, csvFile(name))
		require.NoError(t, err, name)
	}
}

func TestUpload_EmptyFile(t *testing.T) {
	client := &fakeSubmitter{}
	notices := NewNoticeQueue(0)
	u := newTestUploader(t, client, notices)

	cases := []domain.DatasetFile{
		{},
		{Name: "a.csv"},
		{Name: "a.csv", Content: strings.NewReader(""), Size: 0},
	}
	for _, f := range cases {
		_, err := u.Upload(context.Background(), &fakeStore{}, f)
		var ue *Error
		require.True(t, errors.As(err, &ue))
		require.Equal(t, ErrorValidation, ue.Code)
		require.Equal(t, "empty_file", ue.Reason)
	}
	require.Empty(t, client.calls)

	got := notices.Drain()
	require.Len(t, got, 3)
	require.Equal(t, "Please select a file", got[0].Title)
	require.Equal(t, "You need to upload a financial dataset first.", got[0].Description)
	require.Equal(t, domain.NoticeDestructive, got[0].Variant)
}

func TestUpload_UnsupportedType(t *testing.T) {
	client := &fakeSubmitter{}
	_, err := newTestUploader(t, client, nil).Upload(context.Background(), &fakeStore{}, csvFile("report.pdf"))
	var ue *Error
	require.True(t, errors.As(err, &ue))
	require.Equal(t, "unsupported_file_type", ue.Reason)
	require.Empty(t, client.calls)
}

func TestUpload_FailureKeepsPreviousDataset(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode ErrorCode
		wantText string
	}{
		{
			name:     "semantic",
			err:      &queryservice.SemanticError{Kind: queryservice.KindUpload, Message: "Unsupported file format"},
			wantCode: ErrorUpload,
			wantText: "Unsupported file format",
		},
		{
			name:     "transport",
			err:      &queryservice.TransportError{Op: queryservice.OpUpload, Err: &queryservice.HTTPStatusError{StatusCode: http.StatusInternalServerError}},
			wantCode: ErrorTransport,
			wantText: "Upload failed: Internal Server Error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{handle: "/tmp/previous.db"}
			notices := NewNoticeQueue(0)
			_, err := newTestUploader(t, &fakeSubmitter{err: tc.err}, notices).Upload(context.Background(), store, csvFile("a.csv"))

			var ue *Error
			require.True(t, errors.As(err, &ue))
			require.Equal(t, tc.wantCode, ue.Code)

			handle, ok := store.ActiveDataset(context.Background())
			require.True(t, ok)
			require.Equal(t, "/tmp/previous.db", handle)

			got := notices.Drain()
			require.Len(t, got, 1)
			require.Equal(t, tc.wantText, got[0].Description)
			require.Equal(t, domain.NoticeDestructive, got[0].Variant)
		})
	}
}

func TestUpload_StoreFailureIsInternal(t *testing.T) {
	client := &fakeSubmitter{res: domain.UploadResult{DBPath: "/tmp/abc.db"}}
	store := &fakeStore{setErr: errors.New("redis down")}
	_, err := newTestUploader(t, client, nil).Upload(context.Background(), store, csvFile("a.csv"))
	var ue *Error
	require.True(t, errors.As(err, &ue))
	require.Equal(t, ErrorInternal, ue.Code)
	require.Equal(t, "session_store_error", ue.Reason)
}
