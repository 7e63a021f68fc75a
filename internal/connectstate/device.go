package connectstate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hollowresonance/spotconnect/internal/dealer"
	"github.com/hollowresonance/spotconnect/internal/errs"
)

// PutStateReason is the reason code attached to an outbound PUT-state call.
type PutStateReason string

const (
	ReasonNewConnection       PutStateReason = "NEW_CONNECTION"
	ReasonVolumeChanged       PutStateReason = "VOLUME_CHANGED"
	ReasonNewDevice           PutStateReason = "NEW_DEVICE"
	ReasonBecameInactive      PutStateReason = "BECAME_INACTIVE"
	ReasonPlayerStateChanged  PutStateReason = "PLAYER_STATE_CHANGED"
)

const maxVolume = 65535

// clampVolume restricts v to the device's raw volume range (spec.md §3).
func clampVolume(v int64) uint32 {
	if v < 0 {
		return 0
	}
	if v > maxVolume {
		return maxVolume
	}
	return uint32(v)
}

// DeviceDescriptor is the mutable device identity announced to Spotify
// (spec.md §3). Only Volume changes after construction.
type DeviceDescriptor struct {
	DeviceID        string
	Name            string
	Type            string
	SoftwareVersion string
	ClientID        string
	SpircVersion    string
	Capabilities    uint64
	SupportedTypes  []string
	Volume          uint32
	VolumeSteps     int
}

// VolumePercent converts a raw volume to a percentage (spec.md §3).
func (d DeviceDescriptor) VolumePercent() int {
	return int(float64(d.Volume) / maxVolume * 100.0)
}

// VolumeFromPercent converts a percentage to the device's raw volume scale.
func VolumeFromPercent(pct int) uint32 {
	return clampVolume(int64(float64(pct) / 100.0 * maxVolume))
}

// DeviceManager implements C7: it owns the mutable DeviceDescriptor, the
// assigned connection id, and the is_active flag, and serializes them into
// PUT-state HTTP calls, adapted from the teacher's registration.go
// marshal -> http.NewRequestWithContext -> Bearer header -> status-check
// shape.
type DeviceManager struct {
	descriptorMu sync.Mutex
	descriptor   DeviceDescriptor
	connectionID string
	isActive     bool

	messageID uint64

	baseURL string
	auth    dealer.AuthProvider
	client  *http.Client
	states  *Manager
	logger  *slog.Logger

	onVolumeChanged func(uint32)
}

// NewDeviceManager creates a DeviceManager. baseURL is the control-plane
// root, e.g. "https://guc-spclient.spotify.com".
func NewDeviceManager(descriptor DeviceDescriptor, baseURL string, auth dealer.AuthProvider, states *Manager, logger *slog.Logger) *DeviceManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceManager{
		descriptor: descriptor,
		baseURL:    baseURL,
		auth:       auth,
		client:     &http.Client{Timeout: 10 * time.Second},
		states:     states,
		logger:     logger,
	}
}

// OnVolumeChanged registers a callback invoked after every successful volume
// update, raw [0, 65535].
func (d *DeviceManager) OnVolumeChanged(fn func(uint32)) { d.onVolumeChanged = fn }

// Descriptor returns a snapshot of the current device descriptor.
func (d *DeviceManager) Descriptor() DeviceDescriptor {
	d.descriptorMu.Lock()
	defer d.descriptorMu.Unlock()
	return d.descriptor
}

// SetConnectionID records the connection id assigned by the dealer push
// channel (carried on a hm://pusher/v1/connections/... MESSAGE) and PUTs
// reason=NewConnection (spec.md §4.7).
func (d *DeviceManager) SetConnectionID(ctx context.Context, id string) error {
	d.descriptorMu.Lock()
	d.connectionID = id
	d.descriptorMu.Unlock()
	return d.putState(ctx, ReasonNewConnection)
}

// HandleSetVolume decodes a SetVolume protobuf off the connect/volume
// MESSAGE, clamps, updates the descriptor, notifies observers, and PUTs
// reason=VolumeChanged.
func (d *DeviceManager) HandleSetVolume(ctx context.Context, raw []byte) error {
	sv, err := UnmarshalSetVolume(raw)
	if err != nil {
		return fmt.Errorf("%w: set_volume: %v", errs.ErrMessageError, err)
	}
	return d.SetVolume(ctx, int64(sv.Volume))
}

// SetVolume clamps v to [0, 65535], updates the descriptor, notifies
// observers, and PUTs reason=VolumeChanged. Usable both from the wire path
// (HandleSetVolume) and from an imperative UI call.
func (d *DeviceManager) SetVolume(ctx context.Context, v int64) error {
	clamped := clampVolume(v)

	d.descriptorMu.Lock()
	d.descriptor.Volume = clamped
	d.descriptorMu.Unlock()

	if d.onVolumeChanged != nil {
		d.onVolumeChanged(clamped)
	}

	return d.putState(ctx, ReasonVolumeChanged)
}

// SetActive transitions is_active and PUTs reason=NewDevice (activating) or
// reason=BecameInactive (deactivating).
func (d *DeviceManager) SetActive(ctx context.Context, active bool) error {
	d.descriptorMu.Lock()
	d.isActive = active
	d.descriptorMu.Unlock()

	if active {
		return d.putState(ctx, ReasonNewDevice)
	}
	return d.putState(ctx, ReasonBecameInactive)
}

// PublishPlayerState PUTs the current local playback state with
// reason=PlayerStateChanged. Nothing in this module calls it automatically;
// orchestrator state changes are not forwarded here.
func (d *DeviceManager) PublishPlayerState(ctx context.Context) error {
	return d.putState(ctx, ReasonPlayerStateChanged)
}

// putState builds and sends the PUT-state request, re-ingesting a non-empty
// Cluster response body through the playback-state manager (spec.md §4.7).
func (d *DeviceManager) putState(ctx context.Context, reason PutStateReason) error {
	d.descriptorMu.Lock()
	descriptor := d.descriptor
	connectionID := d.connectionID
	isActive := d.isActive
	d.descriptorMu.Unlock()

	if connectionID == "" {
		return fmt.Errorf("%w: no connection id assigned yet", errs.ErrMessageError)
	}

	req := &PutStateRequestWire{
		DeviceID: descriptor.DeviceID,
		DeviceInfo: &DeviceInfoWire{
			Name:            descriptor.Name,
			DeviceType:      descriptor.Type,
			SoftwareVersion: descriptor.SoftwareVersion,
			ClientID:        descriptor.ClientID,
			SpircVersion:    descriptor.SpircVersion,
			Volume:          uint64(descriptor.Volume),
			Capabilities:    descriptor.Capabilities,
		},
		IsActive:            isActive,
		ClientSideTimestamp: time.Now().UnixMilli(),
		MessageID:           atomic.AddUint64(&d.messageID, 1),
		PutStateReason:      string(reason),
	}

	if state, ok := d.states.Latest(); ok {
		req.PlayerState = ToPlayerState(state)
	}

	payload := req.Marshal()

	token, err := d.auth.GetAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidToken, err)
	}

	url := fmt.Sprintf("%s/connect-state/v1/devices/%s", d.baseURL, descriptor.DeviceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating PUT-state request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/protobuf")
	httpReq.Header.Set("Authorization", "Bearer "+token.Token)
	httpReq.Header.Set("X-Spotify-Connection-Id", connectionID)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: PUT-state: %v", errs.ErrNetworkError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading PUT-state response: %v", errs.ErrNetworkError, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%w: PUT-state status %d", errs.ErrNetworkError, resp.StatusCode)
	}

	if len(body) > 0 {
		if _, err := d.states.IngestCluster(body, time.Now().UnixMilli()); err != nil {
			d.logger.Warn("failed to ingest PUT-state response cluster", "error", err)
		}
	}

	d.logger.Debug("put-state sent", "reason", reason, "message_id", req.MessageID)
	return nil
}
