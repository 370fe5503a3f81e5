package objstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/aws/smithy-go"

	"froster-go/internal/froster"
)

func apiErr(code string) error {
	return fmt.Errorf("request failed: %w", &smithy.GenericAPIError{Code: code, Message: code})
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"throttling", apiErr("SlowDown"), true},
		{"request limit", apiErr("RequestLimitExceeded"), true},
		{"internal error", apiErr("InternalError"), true},
		{"access denied", apiErr("AccessDenied"), false},
		{"missing bucket", apiErr("NoSuchBucket"), false},
		{"expired token", apiErr("ExpiredToken"), false},
		{"unknown api error", apiErr("SomethingNew"), false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err); got != tt.want {
				t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	t.Run("auth failures map onto the access error", func(t *testing.T) {
		for _, code := range []string{"AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken"} {
			if err := classify(apiErr(code)); !errors.Is(err, froster.ErrAccessDenied) {
				t.Errorf("classify(%s) = %v, want ErrAccessDenied", code, err)
			}
		}
	})

	t.Run("other errors pass through", func(t *testing.T) {
		orig := apiErr("NoSuchBucket")
		if err := classify(orig); err != orig {
			t.Errorf("classify() = %v, want the original error", err)
		}
	})
}

func TestRcloneEnv(t *testing.T) {
	session := Session{Provider: "wasabi", Profile: "archive", Endpoint: "https://s3.wasabisys.com", Region: "us-east-1"}
	r := NewRclone("", session, &froster.NopLogger{})

	env := r.env(froster.ClassDeepArchive)
	want := []string{
		"RCLONE_S3_PROVIDER=Wasabi",
		"RCLONE_S3_REGION=us-east-1",
		"RCLONE_S3_ENV_AUTH=true",
		"RCLONE_S3_PROFILE=archive",
		"RCLONE_S3_ENDPOINT=https://s3.wasabisys.com",
		"RCLONE_S3_STORAGE_CLASS=DEEP_ARCHIVE",
	}
	for _, w := range want {
		if !slices.Contains(env, w) {
			t.Errorf("env is missing %q", w)
		}
	}

	t.Run("unknown provider falls back to Other", func(t *testing.T) {
		r := NewRclone("", Session{Provider: "weka"}, &froster.NopLogger{})
		if env := r.env(""); !slices.Contains(env, "RCLONE_S3_PROVIDER=Other") {
			t.Error("unknown provider did not map to Other")
		}
	})

	t.Run("no storage class or profile vars when unset", func(t *testing.T) {
		r := NewRclone("", Session{Provider: "aws", Region: "us-west-2"}, &froster.NopLogger{})
		for _, e := range r.env("") {
			if e == "RCLONE_S3_PROFILE=" || e == "RCLONE_S3_STORAGE_CLASS=" {
				t.Errorf("env carries empty setting %q", e)
			}
		}
	})
}

func TestListMounts(t *testing.T) {
	dir := t.TempDir()
	mtab := filepath.Join(dir, "mounts")
	contents := "rootfs / rootfs rw 0 0\n" +
		"archive: /home/alice/froster fuse.rclone ro,nosuid 0 0\n" +
		"archive: /home/alice/my\\040mount fuse.rclone ro 0 0\n" +
		"tmpfs /tmp tmpfs rw 0 0\n"
	if err := os.WriteFile(mtab, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewMounter("", "", Session{}, &froster.NopLogger{})
	m.mtab = mtab

	mounts, err := m.ListMounts()
	if err != nil {
		t.Fatalf("ListMounts() error = %v", err)
	}
	want := []string{"/home/alice/froster", "/home/alice/my mount"}
	if !slices.Equal(mounts, want) {
		t.Errorf("ListMounts() = %v, want %v", mounts, want)
	}
}

func TestUnescapeMount(t *testing.T) {
	tests := []struct{ in, want string }{
		{`/plain/path`, "/plain/path"},
		{`/with\040space`, "/with space"},
		{`/tab\011here`, "/tab\there"},
		{`/back\134slash`, `/back\slash`},
	}
	for _, tt := range tests {
		if got := unescapeMount(tt.in); got != tt.want {
			t.Errorf("unescapeMount(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHotClass(t *testing.T) {
	if got := hotClass("aws"); got != froster.ClassIntelligentTiering {
		t.Errorf("hotClass(aws) = %s", got)
	}
	if got := hotClass("ceph"); got != froster.ClassStandard {
		t.Errorf("hotClass(ceph) = %s", got)
	}
}
