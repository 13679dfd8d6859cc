package device_test

import (
	"testing"

	"github.com/BradenHooton/bastion/pkg/device"
	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want device.Info
	}{
		{
			name: "chrome on windows",
			ua:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			want: device.Info{Browser: "Chrome", OS: "Windows", Type: device.TypeDesktop},
		},
		{
			name: "edge is not chrome",
			ua:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 Edg/126.0.0.0",
			want: device.Info{Browser: "Edge", OS: "Windows", Type: device.TypeDesktop},
		},
		{
			name: "safari on iphone",
			ua:   "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
			want: device.Info{Browser: "Safari", OS: "iOS", Type: device.TypeMobile},
		},
		{
			name: "firefox on android tablet",
			ua:   "Mozilla/5.0 (Android 14; Tablet; rv:127.0) Gecko/127.0 Firefox/127.0",
			want: device.Info{Browser: "Firefox", OS: "Android", Type: device.TypeTablet},
		},
		{
			name: "curl",
			ua:   "curl/8.6.0",
			want: device.Info{Browser: "curl", Type: device.TypeBot},
		},
		{
			name: "empty",
			ua:   "",
			want: device.Info{Type: device.TypeUnknown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, device.Parse(tt.ua))
		})
	}
}

func TestInfo_Name(t *testing.T) {
	assert.Equal(t, "Chrome on macOS", device.Info{Browser: "Chrome", OS: "macOS"}.Name())
	assert.Equal(t, "curl", device.Info{Browser: "curl"}.Name())
	assert.Equal(t, "Linux", device.Info{OS: "Linux"}.Name())
	assert.Equal(t, "Unknown device", device.Info{}.Name())
}
