package renderer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/buffers"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
	"github.com/spaghettifunk/umbra/engine/renderer/resources"
	"github.com/spaghettifunk/umbra/engine/renderer/shadow"
	"github.com/spaghettifunk/umbra/engine/renderer/stages"
	"github.com/spaghettifunk/umbra/engine/scene"
	"github.com/spaghettifunk/umbra/engine/systems"
)

type State uint8

const (
	StateUninitialized State = iota
	StateInitialized
	StateRendering
	StateCleanedUp
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRendering:
		return "rendering"
	case StateCleanedUp:
		return "cleaned-up"
	default:
		return "unknown"
	}
}

// full screen quad, position3 uv2
var quadVertices = []float32{
	-1, 1, 0, 0, 1,
	-1, -1, 0, 0, 0,
	1, -1, 0, 1, 0,
	-1, 1, 0, 0, 1,
	1, -1, 0, 1, 0,
	1, 1, 0, 1, 1,
}

type Option func(*Instance)

func WithSurface(surface metadata.Surface) Option {
	return func(i *Instance) {
		i.surface = surface
	}
}

func WithGui(gui metadata.GuiProvider) Option {
	return func(i *Instance) {
		i.gui = gui
	}
}

// WithShaderDir makes shader files found in dir override the built-in ones.
func WithShaderDir(dir string) Option {
	return func(i *Instance) {
		i.shaders = stages.NewShaderLibrary(dir)
	}
}

func WithSettings(settings stages.Settings) Option {
	return func(i *Instance) {
		i.settings = settings
	}
}

// WithJobSystem decodes textures loaded through LoadAsync on the job system.
func WithJobSystem(jobs *systems.JobSystem) Option {
	return func(i *Instance) {
		i.jobs = jobs
	}
}

func WithPipeline(config pipeline.Config) Option {
	return func(i *Instance) {
		i.config = config
	}
}

// DefaultPipeline is the configuration used when none is given.
func DefaultPipeline() pipeline.Config {
	return pipeline.NewBuilder().WithScene().WithSkybox().WithFilter().WithGui().Build()
}

/**
 * @brief Instance owns the framebuffers, the shared buffers and the stages
 * of one pipeline configuration. Every method must be called from the
 * render goroutine; only the deletion queue and the texture loader's
 * asynchronous path may be used from elsewhere.
 */
type Instance struct {
	backend  metadata.Backend
	surface  metadata.Surface
	gui      metadata.GuiProvider
	shaders  *stages.ShaderLibrary
	settings stages.Settings
	jobs     *systems.JobSystem

	graph  *pipeline.Graph
	config pipeline.Config

	state      State
	renderable bool

	queue       *resources.DeletionQueue
	gbuffer     *resources.Owned[metadata.Framebuffer]
	shadowMap   *resources.Owned[metadata.Framebuffer]
	sceneColor  *resources.Owned[metadata.Framebuffer]
	quad        *resources.Owned[metadata.Buffer]
	resources   *stages.Resources
	ctx         *stages.Context
	stages      map[pipeline.StageKind]stages.Stage
	frameNumber uint64
	stats       stages.FrameStats
	metrics     *core.Metrics
}

func New(backend metadata.Backend, opts ...Option) *Instance {
	i := &Instance{
		backend:  backend,
		shaders:  stages.NewShaderLibrary(""),
		settings: stages.DefaultSettings(),
		graph:    pipeline.DefaultGraph(),
		config:   DefaultPipeline(),
		state:    StateUninitialized,
		queue:    resources.NewDeletionQueue(),
		stages:   make(map[pipeline.StageKind]stages.Stage),
		metrics:  core.NewMetrics(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Instance) State() State {
	return i.state
}

func (i *Instance) Renderable() bool {
	return i.renderable
}

func (i *Instance) Config() pipeline.Config {
	return i.config
}

// Stats returns the statistics of the last rendered frame.
func (i *Instance) Stats() stages.FrameStats {
	return i.stats
}

func (i *Instance) Metrics() *core.Metrics {
	return i.metrics
}

func (i *Instance) TextureLoader() *resources.TextureLoader {
	if i.resources == nil {
		return nil
	}
	return i.resources.Textures
}

// Queue is the deletion queue every resource of the instance is released
// through. Enqueue is safe from any goroutine.
func (i *Instance) Queue() *resources.DeletionQueue {
	return i.queue
}

func attachment(name string, format metadata.TextureFormat) metadata.AttachmentSpec {
	return metadata.AttachmentSpec{
		Name:   fmt.Sprintf("%s-%s", name, uuid.NewString()),
		Format: format,
	}
}

func (i *Instance) createFramebuffer(spec metadata.FramebufferSpec) (*resources.Owned[metadata.Framebuffer], error) {
	fb, err := i.backend.CreateFramebuffer(spec)
	if err != nil {
		return nil, fmt.Errorf("create %s framebuffer: %w: %w", spec.Name, core.ErrResourceCreation, err)
	}
	return resources.Own(i.queue, fb), nil
}

// sized are the framebuffers following the surface size.
func (i *Instance) createSized(width, height uint32) (gbuffer, sceneColor metadata.FramebufferSpec) {
	gbuffer = metadata.FramebufferSpec{
		Name:   "gbuffer",
		Width:  width,
		Height: height,
		// order matches the metadata.GBuffer slots
		Attachments: []metadata.AttachmentSpec{
			attachment("albedo", metadata.TextureFormatRGBA8),
			attachment("normal", metadata.TextureFormatRGBA16F),
			attachment("specular", metadata.TextureFormatRGBA8),
			attachment("depth", metadata.TextureFormatDepth32F),
		},
	}
	sceneColor = metadata.FramebufferSpec{
		Name:   "scene-color",
		Width:  width,
		Height: height,
		Attachments: []metadata.AttachmentSpec{
			attachment("color", metadata.TextureFormatRGBA16F),
			attachment("depth", metadata.TextureFormatDepth32F),
		},
	}
	return gbuffer, sceneColor
}

/**
 * @brief Allocates the framebuffers, the shared buffers and the stages of
 * the current configuration. Any resource creation failure is fatal: what
 * was created is released and the instance stays uninitialized. A
 * configuration that does not validate is not fatal; the instance is
 * initialized without stages and Render refuses until SwapPipeline gets a
 * valid one.
 */
func (i *Instance) Initialize(surface metadata.Surface) error {
	switch i.state {
	case StateCleanedUp:
		return core.ErrCleanedUp
	case StateInitialized, StateRendering:
		return nil
	}
	if surface != nil {
		i.surface = surface
	}
	if i.surface == nil {
		err := fmt.Errorf("initialize without a surface: %w", core.ErrConfiguration)
		core.LogError(err.Error())
		return err
	}

	if err := i.allocate(); err != nil {
		core.LogError("renderer: %s", err.Error())
		i.release()
		return err
	}

	i.state = StateInitialized
	if err := i.graph.Validate(i.config); err != nil {
		core.LogWarn("renderer: %s, no stage created", err.Error())
		i.renderable = false
		return nil
	}
	for _, kind := range i.graph.Enabled(i.config) {
		stage, err := i.createStage(kind)
		if err != nil {
			core.LogError("renderer: %s", err.Error())
			i.release()
			i.state = StateUninitialized
			return err
		}
		i.stages[kind] = stage
	}
	i.renderable = true
	core.LogInfo("renderer: initialized %s backend with pipeline %s", i.backend.Name(), i.config)
	return nil
}

func (i *Instance) allocate() error {
	width, height := i.surface.Size()
	gbufferSpec, sceneColorSpec := i.createSized(width, height)

	var err error
	if i.gbuffer, err = i.createFramebuffer(gbufferSpec); err != nil {
		return err
	}
	if i.sceneColor, err = i.createFramebuffer(sceneColorSpec); err != nil {
		return err
	}
	mapSize := i.settings.ShadowMapSize
	if mapSize == 0 {
		mapSize = shadow.DefaultMapSize
	}
	if i.shadowMap, err = i.createFramebuffer(metadata.FramebufferSpec{
		Name:        "shadow-map",
		Width:       mapSize,
		Height:      mapSize,
		Layers:      shadow.CascadeCount,
		Attachments: []metadata.AttachmentSpec{attachment("cascades", metadata.TextureFormatDepth32F)},
	}); err != nil {
		return err
	}

	data := make([]byte, len(quadVertices)*4)
	for n, v := range quadVertices {
		binary.LittleEndian.PutUint32(data[n*4:], math.Float32bits(v))
	}
	quad, err := i.backend.CreateBuffer(metadata.BufferKindVertex, uint64(len(data)))
	if err != nil {
		return fmt.Errorf("create quad: %w: %w", core.ErrResourceCreation, err)
	}
	i.quad = resources.Own(i.queue, quad)
	if err := i.backend.UploadBuffer(quad, 0, data); err != nil {
		return err
	}

	cascades := shadow.New(mapSize)
	cascades.MaxDistance = i.settings.ShadowDistance
	i.resources = &stages.Resources{
		GBuffer:       i.gbuffer.Get(),
		ShadowMap:     i.shadowMap.Get(),
		SceneColor:    i.sceneColor.Get(),
		Quad:          quad,
		RenderBuffers: buffers.NewRenderBuffers(i.backend, i.queue),
		Commands:      buffers.NewCommandBuffer(i.backend, i.queue),
		Materials:     buffers.NewMaterialCache(i.backend, i.queue),
		Lights:        buffers.NewLightBuffers(i.backend, i.queue),
		Cascades:      cascades,
		Textures:      resources.NewTextureLoader(i.backend, i.queue, i.jobs),
	}
	if err := i.resources.Materials.Initialize(); err != nil {
		return fmt.Errorf("material cache: %w: %w", core.ErrResourceCreation, err)
	}
	if err := i.resources.Lights.Initialize(); err != nil {
		return fmt.Errorf("light buffers: %w: %w", core.ErrResourceCreation, err)
	}
	i.ctx = &stages.Context{
		Backend:   i.backend,
		Queue:     i.queue,
		Shaders:   i.shaders,
		Resources: i.resources,
		Surface:   i.surface,
		Gui:       i.gui,
		Settings:  i.settings,
	}
	return nil
}

func (i *Instance) createStage(kind pipeline.StageKind) (stages.Stage, error) {
	stage, err := stages.New(kind)
	if err != nil {
		return nil, err
	}
	if err := stage.Initialize(i.ctx); err != nil {
		return nil, fmt.Errorf("initialize %s stage: %w", kind, err)
	}
	core.LogDebug("renderer: %s stage ready", kind)
	return stage, nil
}

// release tears every owned resource down and drains the deletion queue
// until it is empty.
func (i *Instance) release() {
	for _, kind := range pipeline.Order {
		if stage, ok := i.stages[kind]; ok {
			stage.Cleanup()
			delete(i.stages, kind)
		}
	}
	if i.resources != nil {
		i.resources.Textures.Cleanup()
		i.resources.Commands.Cleanup()
		i.resources.RenderBuffers.Cleanup()
		i.resources.Materials.Cleanup()
		i.resources.Lights.Cleanup()
		i.resources = nil
	}
	i.quad.Release()
	i.gbuffer.Release()
	i.sceneColor.Release()
	i.shadowMap.Release()
	i.quad, i.gbuffer, i.sceneColor, i.shadowMap = nil, nil, nil, nil
	for i.queue.Len() > 0 {
		i.queue.Drain(i.backend)
	}
	i.renderable = false
}

func (i *Instance) beginFrame() {
	be := i.backend
	colour := i.settings.ClearColor
	be.SetScissor(false, metadata.Rect{})
	be.SetDepthTest(true)
	be.SetDepthWrite(true)

	target := i.surface.Target()
	w, h := i.surface.Size()
	be.BindFramebuffer(target)
	be.SetViewport(metadata.Rect{Width: w, Height: h})
	be.Clear(metadata.ClearColour|metadata.ClearDepth, colour)

	if i.config.HasFilterStage() {
		sc := i.resources.SceneColor
		be.BindFramebuffer(sc)
		be.SetViewport(metadata.Rect{Width: sc.Width, Height: sc.Height})
		be.Clear(metadata.ClearColour|metadata.ClearDepth, colour)
	}
}

/**
 * @brief Renders one frame of s: the shared buffers are brought up to date,
 * pending texture uploads are flushed, the enabled stages run in pipeline
 * order and the deletion queue is drained exactly once. A stage that fails
 * is skipped for this frame and reported in the frame stats.
 */
func (i *Instance) Render(s *scene.Scene) error {
	switch i.state {
	case StateUninitialized:
		return core.ErrNotInitialized
	case StateCleanedUp:
		return core.ErrCleanedUp
	}
	if err := i.graph.Validate(i.config); err != nil {
		core.LogError("renderer: refusing to render: %s", err.Error())
		return err
	}
	if !i.renderable {
		return core.ErrNotRenderable
	}
	if s == nil || s.Camera == nil {
		return fmt.Errorf("render without a scene or camera: %w", core.ErrConfiguration)
	}

	start := time.Now()
	i.frameNumber++
	stats := stages.FrameStats{Number: i.frameNumber}
	frame := &stages.Frame{
		Scene:  s,
		Config: i.config,
		Number: i.frameNumber,
		Stats:  &stats,
	}

	i.beginFrame()
	if err := i.resources.Prepare(s, &stats); err != nil {
		// geometry buffers may be half rebuilt
		err = fmt.Errorf("prepare frame buffers: %w: %w", core.ErrNotRenderable, err)
		core.LogError("renderer: %s", err.Error())
		i.renderable = false
		i.stats = stats
		return err
	}
	i.resources.Textures.Flush()

	// a failing stage only loses its own output, the others still run
	for _, kind := range pipeline.Order {
		stage, ok := i.stages[kind]
		if !ok {
			continue
		}
		if err := stage.Render(frame); err != nil {
			core.LogError("renderer: %s stage: %s", kind, err.Error())
			stats.Failures = append(stats.Failures, stages.StageFailure{Kind: kind, Err: err})
			continue
		}
		stats.Stages = append(stats.Stages, kind)
	}

	stats.Deleted = i.queue.Drain(i.backend)
	stats.FrameTime = time.Since(start)
	i.metrics.Update(stats.FrameTime.Seconds())
	i.stats = stats
	i.state = StateRendering
	return nil
}

// Resize reallocates the framebuffers that follow the surface size. The
// previous ones are released through the deletion queue.
func (i *Instance) Resize(width, height uint32) error {
	switch i.state {
	case StateUninitialized:
		return core.ErrNotInitialized
	case StateCleanedUp:
		return core.ErrCleanedUp
	}
	if width == 0 || height == 0 {
		// minimized, keep the old targets
		return nil
	}
	gbufferSpec, sceneColorSpec := i.createSized(width, height)
	gbuffer, err := i.backend.CreateFramebuffer(gbufferSpec)
	if err != nil {
		err = fmt.Errorf("resize g-buffer: %w: %w", core.ErrResourceCreation, err)
		core.LogError(err.Error())
		return err
	}
	sceneColor, err := i.backend.CreateFramebuffer(sceneColorSpec)
	if err != nil {
		if qerr := i.queue.EnqueueHandle(gbuffer); qerr != nil {
			core.LogError("renderer: failed to queue g-buffer for deletion: %s", qerr.Error())
		}
		err = fmt.Errorf("resize scene colour: %w: %w", core.ErrResourceCreation, err)
		core.LogError(err.Error())
		return err
	}
	i.gbuffer = i.gbuffer.Replace(gbuffer)
	i.sceneColor = i.sceneColor.Replace(sceneColor)
	i.resources.GBuffer = gbuffer
	i.resources.SceneColor = sceneColor

	var errs []error
	for _, kind := range pipeline.Order {
		if stage, ok := i.stages[kind]; ok {
			if err := stage.Resize(width, height); err != nil {
				errs = append(errs, fmt.Errorf("resize %s stage: %w", kind, err))
			}
		}
	}
	core.LogDebug("renderer: resized to %dx%d", width, height)
	return errors.Join(errs...)
}

/**
 * @brief Switches to config, tearing down the stages whose bit was cleared
 * and creating the ones whose bit was set. Stages enabled in both
 * configurations are kept as they are. A stage that fails to initialize is
 * disabled and its error returned joined with the others; if the remaining
 * configuration does not validate the instance is left non-renderable.
 */
func (i *Instance) SwapPipeline(config pipeline.Config) error {
	switch i.state {
	case StateUninitialized:
		return core.ErrNotInitialized
	case StateCleanedUp:
		return core.ErrCleanedUp
	}
	if err := i.graph.Validate(config); err != nil {
		core.LogError("renderer: swap refused: %s", err.Error())
		return err
	}

	i.state = StateInitialized
	var errs []error
	active := config
	for _, kind := range pipeline.Order {
		stage, exists := i.stages[kind]
		wanted := config.Enabled(kind)
		switch {
		case exists && !wanted:
			stage.Cleanup()
			delete(i.stages, kind)
		case !exists && wanted:
			created, err := i.createStage(kind)
			if err != nil {
				core.LogError("renderer: disabling %s stage: %s", kind, err.Error())
				errs = append(errs, err)
				active = active.Without(kind)
				continue
			}
			i.stages[kind] = created
		}
	}
	core.LogInfo("renderer: pipeline %s -> %s", i.config, active)
	i.config = active
	i.renderable = i.graph.Validate(active) == nil
	return errors.Join(errs...)
}

// ReloadShaders rebuilds the stages using the given shader file. The old
// programs are released through the deletion queue.
func (i *Instance) ReloadShaders(file string) error {
	if i.state == StateUninitialized || i.state == StateCleanedUp {
		return core.ErrNotInitialized
	}
	programs := stages.ProgramsUsing(file)
	var errs []error
	for _, kind := range pipeline.Order {
		stage, ok := i.stages[kind]
		if !ok {
			continue
		}
		uses := slices.ContainsFunc(stage.Programs(), func(p string) bool {
			return slices.Contains(programs, p)
		})
		if !uses {
			continue
		}
		stage.Cleanup()
		delete(i.stages, kind)
		created, err := i.createStage(kind)
		if err != nil {
			core.LogError("renderer: reload of %s failed, stage disabled: %s", kind, err.Error())
			errs = append(errs, err)
			i.config = i.config.Without(kind)
			continue
		}
		i.stages[kind] = created
		core.LogInfo("renderer: reloaded %s stage after %s changed", kind, file)
	}
	if len(errs) > 0 {
		i.renderable = i.graph.Validate(i.config) == nil
	}
	return errors.Join(errs...)
}

// ProcessResources flushes pending texture uploads and drains the deletion
// queue once. It returns the number of released resources.
func (i *Instance) ProcessResources() int {
	if i.resources != nil {
		i.resources.Textures.Flush()
	}
	return i.queue.Drain(i.backend)
}

// Stages returns the kinds of the live stages in execution order.
func (i *Instance) Stages() []pipeline.StageKind {
	out := []pipeline.StageKind{}
	for _, kind := range pipeline.Order {
		if _, ok := i.stages[kind]; ok {
			out = append(out, kind)
		}
	}
	return out
}

// Cleanup releases every resource. It can be called in any state and more
// than once.
func (i *Instance) Cleanup() {
	if i.state == StateCleanedUp {
		return
	}
	i.release()
	i.state = StateCleanedUp
	core.LogInfo("renderer: cleaned up")
}
