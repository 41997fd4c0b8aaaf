package metadata

import (
	"encoding/binary"
	"math"
)

// All GPU records are little endian and laid out for std430 storage
// buffers unless stated otherwise.

/**
 * @brief One indirect indexed draw. Matches the layout consumed by
 * glMultiDrawElementsIndirect / vkCmdDrawIndexedIndirect.
 * Size: 20 bytes.
 */
type DrawCommand struct {
	Count         uint32 // offset  0: index count
	InstanceCount uint32 // offset  4: number of entities drawn with this mesh
	FirstIndex    uint32 // offset  8: first index in the shared index buffer
	BaseVertex    int32  // offset 12: added to each index
	BaseInstance  uint32 // offset 16: first DrawElement of the instances
}

const DrawCommandSize = 20

func (c *DrawCommand) Size() int {
	return DrawCommandSize
}

func (c *DrawCommand) Marshal() []byte {
	buf := make([]byte, DrawCommandSize)
	c.MarshalTo(buf)
	return buf
}

func (c *DrawCommand) MarshalTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], c.Count)
	binary.LittleEndian.PutUint32(buf[4:8], c.InstanceCount)
	binary.LittleEndian.PutUint32(buf[8:12], c.FirstIndex)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(c.BaseVertex))
	binary.LittleEndian.PutUint32(buf[16:20], c.BaseInstance)
}

func UnmarshalDrawCommand(buf []byte) DrawCommand {
	return DrawCommand{
		Count:         binary.LittleEndian.Uint32(buf[0:4]),
		InstanceCount: binary.LittleEndian.Uint32(buf[4:8]),
		FirstIndex:    binary.LittleEndian.Uint32(buf[8:12]),
		BaseVertex:    int32(binary.LittleEndian.Uint32(buf[12:16])),
		BaseInstance:  binary.LittleEndian.Uint32(buf[16:20]),
	}
}

/**
 * @brief Per-instance draw metadata, indexed by gl_BaseInstance + gl_InstanceID.
 * Size: 8 bytes.
 */
type DrawElement struct {
	ModelMatrixIdx uint32 // offset 0: index into the model matrix buffer
	MaterialIdx    uint32 // offset 4: index into the material buffer
}

const DrawElementSize = 8

func (e *DrawElement) Size() int {
	return DrawElementSize
}

func (e *DrawElement) MarshalTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], e.ModelMatrixIdx)
	binary.LittleEndian.PutUint32(buf[4:8], e.MaterialIdx)
}

func UnmarshalDrawElement(buf []byte) DrawElement {
	return DrawElement{
		ModelMatrixIdx: binary.LittleEndian.Uint32(buf[0:4]),
		MaterialIdx:    binary.LittleEndian.Uint32(buf[4:8]),
	}
}

// MatrixSize is the size of one column-major mat4 in bytes.
const MatrixSize = 64

// PutMatrix writes a column-major 4x4 matrix at the start of buf.
func PutMatrix(buf []byte, m [16]float32) {
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(m[i]))
	}
}

// ReadMatrix reads back a matrix written with PutMatrix.
func ReadMatrix(buf []byte) [16]float32 {
	var m [16]float32
	for i := 0; i < 16; i++ {
		m[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4 : i*4+4]))
	}
	return m
}

/**
 * @brief Material record. Texture index 0 selects the fallback texture.
 * Size: 48 bytes.
 */
type GPUMaterial struct {
	DiffuseColor [4]float32 // offset  0
	TextureIdx   uint32     // offset 16: albedo texture slot
	NormalMapIdx uint32     // offset 20: normal map slot
	Reflectance  float32    // offset 24
	Roughness    float32    // offset 28
	Metallic     float32    // offset 32
	Transparent  uint32     // offset 36: 1 = drawn by the transparency pass
	_pad         [2]uint32  // offset 40
}

const GPUMaterialSize = 48

func (m *GPUMaterial) Size() int {
	return GPUMaterialSize
}

func (m *GPUMaterial) MarshalTo(buf []byte) {
	putVec(buf[0:16], m.DiffuseColor[:])
	binary.LittleEndian.PutUint32(buf[16:20], m.TextureIdx)
	binary.LittleEndian.PutUint32(buf[20:24], m.NormalMapIdx)
	putF32(buf[24:28], m.Reflectance)
	putF32(buf[28:32], m.Roughness)
	putF32(buf[32:36], m.Metallic)
	binary.LittleEndian.PutUint32(buf[36:40], m.Transparent)
	binary.LittleEndian.PutUint64(buf[40:48], 0)
}

func UnmarshalGPUMaterial(buf []byte) GPUMaterial {
	m := GPUMaterial{
		TextureIdx:   binary.LittleEndian.Uint32(buf[16:20]),
		NormalMapIdx: binary.LittleEndian.Uint32(buf[20:24]),
		Reflectance:  getF32(buf[24:28]),
		Roughness:    getF32(buf[28:32]),
		Metallic:     getF32(buf[32:36]),
		Transparent:  binary.LittleEndian.Uint32(buf[36:40]),
	}
	getVec(buf[0:16], m.DiffuseColor[:])
	return m
}

/**
 * @brief Point light record. Position is in view space.
 * Size: 48 bytes.
 */
type GPUPointLight struct {
	Position  [3]float32 // offset  0
	Intensity float32    // offset 12
	Color     [3]float32 // offset 16
	Constant  float32    // offset 28: attenuation
	Linear    float32    // offset 32
	Exponent  float32    // offset 36
	_pad      [2]uint32  // offset 40
}

const GPUPointLightSize = 48

func (l *GPUPointLight) Size() int {
	return GPUPointLightSize
}

func (l *GPUPointLight) MarshalTo(buf []byte) {
	putVec(buf[0:12], l.Position[:])
	putF32(buf[12:16], l.Intensity)
	putVec(buf[16:28], l.Color[:])
	putF32(buf[28:32], l.Constant)
	putF32(buf[32:36], l.Linear)
	putF32(buf[36:40], l.Exponent)
	binary.LittleEndian.PutUint64(buf[40:48], 0)
}

func UnmarshalGPUPointLight(buf []byte) GPUPointLight {
	l := GPUPointLight{
		Intensity: getF32(buf[12:16]),
		Constant:  getF32(buf[28:32]),
		Linear:    getF32(buf[32:36]),
		Exponent:  getF32(buf[36:40]),
	}
	getVec(buf[0:12], l.Position[:])
	getVec(buf[16:28], l.Color[:])
	return l
}

/**
 * @brief Spot light record: a point light plus a cone. Position and
 * direction are in view space.
 * Size: 64 bytes.
 */
type GPUSpotLight struct {
	Point     GPUPointLight // offset  0
	Direction [3]float32    // offset 48
	CutOff    float32       // offset 60: cos(half angle)
}

const GPUSpotLightSize = 64

func (l *GPUSpotLight) Size() int {
	return GPUSpotLightSize
}

func (l *GPUSpotLight) MarshalTo(buf []byte) {
	l.Point.MarshalTo(buf[0:48])
	putVec(buf[48:60], l.Direction[:])
	putF32(buf[60:64], l.CutOff)
}

func UnmarshalGPUSpotLight(buf []byte) GPUSpotLight {
	l := GPUSpotLight{
		Point:  UnmarshalGPUPointLight(buf[0:48]),
		CutOff: getF32(buf[60:64]),
	}
	getVec(buf[48:60], l.Direction[:])
	return l
}

/**
 * @brief Scene wide lighting header uploaded as a uniform block (std140).
 * Size: 80 bytes.
 *
 *	vec3  ambient_color      offset  0
 *	float ambient_intensity  offset 12
 *	vec3  dir_color          offset 16
 *	float dir_intensity      offset 28
 *	vec3  dir_direction      offset 32 (view space)
 *	vec3  fog_color          offset 48
 *	float fog_density        offset 60
 *	uint  fog_active         offset 64
 *	uint  point_count        offset 68
 *	uint  spot_count         offset 72
 */
type GPUSceneLights struct {
	AmbientColor     [3]float32
	AmbientIntensity float32
	DirColor         [3]float32
	DirIntensity     float32
	DirDirection     [3]float32
	FogColor         [3]float32
	FogDensity       float32
	FogActive        uint32
	PointCount       uint32
	SpotCount        uint32
}

const GPUSceneLightsSize = 80

func (s *GPUSceneLights) Size() int {
	return GPUSceneLightsSize
}

func (s *GPUSceneLights) Marshal() []byte {
	buf := make([]byte, GPUSceneLightsSize)
	putVec(buf[0:12], s.AmbientColor[:])
	putF32(buf[12:16], s.AmbientIntensity)
	putVec(buf[16:28], s.DirColor[:])
	putF32(buf[28:32], s.DirIntensity)
	putVec(buf[32:44], s.DirDirection[:])
	putVec(buf[48:60], s.FogColor[:])
	putF32(buf[60:64], s.FogDensity)
	binary.LittleEndian.PutUint32(buf[64:68], s.FogActive)
	binary.LittleEndian.PutUint32(buf[68:72], s.PointCount)
	binary.LittleEndian.PutUint32(buf[72:76], s.SpotCount)
	return buf
}

func UnmarshalGPUSceneLights(buf []byte) GPUSceneLights {
	s := GPUSceneLights{
		AmbientIntensity: getF32(buf[12:16]),
		DirIntensity:     getF32(buf[28:32]),
		FogDensity:       getF32(buf[60:64]),
		FogActive:        binary.LittleEndian.Uint32(buf[64:68]),
		PointCount:       binary.LittleEndian.Uint32(buf[68:72]),
		SpotCount:        binary.LittleEndian.Uint32(buf[72:76]),
	}
	getVec(buf[0:12], s.AmbientColor[:])
	getVec(buf[16:28], s.DirColor[:])
	getVec(buf[32:44], s.DirDirection[:])
	getVec(buf[48:60], s.FogColor[:])
	return s
}

func putF32(buf []byte, v float32) {
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
}

func getF32(buf []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf))
}

func putVec(buf []byte, v []float32) {
	for i, f := range v {
		putF32(buf[i*4:], f)
	}
}

func getVec(buf []byte, out []float32) {
	for i := range out {
		out[i] = getF32(buf[i*4:])
	}
}
