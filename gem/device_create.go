package gem

import (
	"log/slog"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/gem/gem/driver"
	"github.com/vkngwrapper/gem/gem/internal/utils"
	"github.com/vkngwrapper/gem/memutils"
	"github.com/vkngwrapper/gem/memutils/metadata"
	"golang.org/x/time/rate"
)

const (
	// defaultApertureSize is the aperture size used when none is provided via CreateOptions. It is
	// equal to 256Mb.
	defaultApertureSize int = 256 * 1024 * 1024
	defaultGeneration       = 4

	defaultRetireInterval      = time.Second
	defaultHangcheckTicks      = 3
	defaultShrinkerIdleTimeout = 2 * time.Second
	defaultThrottleWindow      = 20 * time.Millisecond

	hangWarningInterval = 5 * time.Second
)

// CreateOptions contains optional settings when creating a Device. It is valid to leave every
// field blank.
type CreateOptions struct {
	// Flags indicates specific device behaviors to activate or deactivate
	Flags CreateFlags

	// Generation is the hardware generation, which selects fence register layout and fence
	// alignment rules. Generations 2 through 6 are supported; the default is 4.
	Generation int
	// ApertureSize is the size in bytes of the device-addressable window. It must be a power of two.
	ApertureSize int
	// MappableSize is the size of the CPU-visible prefix of the aperture. It defaults to
	// ApertureSize and may not exceed it.
	MappableSize int
	// ApertureBase is the bus address of the aperture, used to compute the page handed back from
	// Device.Fault
	ApertureBase uint64
	// FenceCount is the number of fence registers to manage. It defaults to the maximum the
	// generation supports.
	FenceCount int
	// ColorGranularity, when larger than a page, keeps objects of different cache levels from
	// sharing a granule of this many bytes
	ColorGranularity int
	// Engines lists the command streamers present. It defaults to render, BSD and BLT.
	Engines []driver.EngineID

	// WaitTimeout bounds every wait for rendering. Zero means waits are bounded only by their
	// context.
	WaitTimeout time.Duration
	// RetireInterval is the period of the retire worker
	RetireInterval time.Duration
	// HangcheckTicks is the number of retire worker periods an engine may go without progress
	// before the device is declared wedged
	HangcheckTicks int
	// ShrinkerIdleTimeout bounds the wait for the GPU to idle in Device.OnLowMemory
	ShrinkerIdleTimeout time.Duration
	// ThrottleWindow is how far behind the most recent submission Device.Throttle lets a client run
	ThrottleWindow time.Duration
	// MaxObjects limits the number of live objects. Zero means no limit.
	MaxObjects int

	// Logger receives debug traces of public operations and warnings from the retire worker. Nil
	// discards everything.
	Logger *slog.Logger
}

func maxFences(generation int) int {
	if generation == 2 {
		return 8
	}
	return 16
}

func defaultFences(generation int) int {
	if generation < 4 {
		return 8
	}
	return 16
}

// New creates a new Device
//
// hw - The collaborators the device drives: page backing, translation table, command streamer,
// fence registers, user mappings and reset
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(hw driver.Hardware, options CreateOptions) (*Device, error) {
	if hw == nil {
		return nil, errors.New("gem.New requires hardware")
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(nopHandler{})
	}

	device := &Device{
		logger:   logger,
		hw:       hw,
		flags:    options.Flags,
		objects:  swiss.NewMap[Handle, *Object](64),
		flushing: newObjectList(listFlushing),
		inactive: newObjectList(listInactive),
		pinned:   newObjectList(listPinned),

		generation:          options.Generation,
		apertureSize:        options.ApertureSize,
		mappableSize:        options.MappableSize,
		apertureBase:        options.ApertureBase,
		waitTimeout:         options.WaitTimeout,
		retireInterval:      options.RetireInterval,
		hangcheckTicks:      options.HangcheckTicks,
		shrinkerIdleTimeout: options.ShrinkerIdleTimeout,
		throttleWindow:      options.ThrottleWindow,
		maxObjects:          options.MaxObjects,

		wedgeEvent:  utils.NewEvent(),
		hangLimiter: rate.NewLimiter(rate.Every(hangWarningInterval), 1),
	}

	if device.generation == 0 {
		device.generation = defaultGeneration
	}
	if device.generation < 2 || device.generation > 6 {
		return nil, errors.Newf("unsupported hardware generation %d", device.generation)
	}

	if device.apertureSize == 0 {
		device.apertureSize = defaultApertureSize
	}
	if err := memutils.CheckPow2(device.apertureSize, "CreateOptions.ApertureSize"); err != nil {
		return nil, errors.Wrap(err, "invalid aperture")
	}
	if device.apertureSize < memutils.PageSize {
		return nil, errors.Newf("aperture of %d bytes is smaller than a page", device.apertureSize)
	}

	if device.mappableSize == 0 {
		device.mappableSize = device.apertureSize
	}
	if device.mappableSize > device.apertureSize || device.mappableSize%memutils.PageSize != 0 {
		return nil, errors.Newf("mappable size %d must be page-aligned and no larger than the aperture size %d", device.mappableSize, device.apertureSize)
	}
	if device.apertureBase%memutils.PageSize != 0 {
		return nil, errors.Newf("aperture base %#x is not page-aligned", device.apertureBase)
	}

	fenceCount := options.FenceCount
	if fenceCount == 0 {
		fenceCount = defaultFences(device.generation)
	}
	if fenceCount < 0 || fenceCount > maxFences(device.generation) {
		return nil, errors.Newf("generation %d supports at most %d fence registers, but %d were requested", device.generation, maxFences(device.generation), fenceCount)
	}
	device.initFences(fenceCount)

	if device.retireInterval == 0 {
		device.retireInterval = defaultRetireInterval
	}
	if device.hangcheckTicks == 0 {
		device.hangcheckTicks = defaultHangcheckTicks
	}
	if device.shrinkerIdleTimeout == 0 {
		device.shrinkerIdleTimeout = defaultShrinkerIdleTimeout
	}
	if device.throttleWindow == 0 {
		device.throttleWindow = defaultThrottleWindow
	}
	if device.maxObjects == 0 {
		device.maxObjects = math.MaxInt
	}

	engineIDs := options.Engines
	if len(engineIDs) == 0 {
		engineIDs = []driver.EngineID{driver.EngineRender, driver.EngineBSD, driver.EngineBLT}
	}
	device.engines = make([]*engine, driver.EngineCount)
	for _, id := range engineIDs {
		if id < 0 || int(id) >= driver.EngineCount {
			return nil, errors.Newf("unknown engine %s", id)
		}
		if device.engines[id] != nil {
			return nil, errors.Newf("engine %s was listed twice", id)
		}
		device.engines[id] = newEngine(id)
	}
	if device.engines[driver.EngineRender] == nil {
		return nil, errors.New("the render engine is required")
	}

	var granularity metadata.GranularityCheck = metadata.NoGranularity{}
	if options.ColorGranularity > memutils.PageSize {
		if err := memutils.CheckPow2(options.ColorGranularity, "CreateOptions.ColorGranularity"); err != nil {
			return nil, errors.Wrap(err, "invalid colour granularity")
		}
		granularity = newCacheColoring(uint(options.ColorGranularity), device.apertureSize)
	}

	device.granularity = granularity
	device.aperture = metadata.NewTLSFBlockMetadata(memutils.PageSize, granularity)
	device.aperture.Init(device.apertureSize)

	device.logger.Debug("Device::New",
		slog.Int("Generation", device.generation),
		slog.Int("ApertureSize", device.apertureSize),
		slog.Int("MappableSize", device.mappableSize),
		slog.Int("FenceCount", fenceCount),
		slog.String("Flags", device.flags.String()),
	)

	if device.flags&DeviceCreateNoRetireWorker == 0 {
		device.worker = startWorker(device)
	}

	return device, nil
}
