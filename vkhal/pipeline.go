package vkhal

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/hellotriangle/hal"
)

const spirvMagic = 0x07230203

// rootSignature is an empty pipeline layout. Vulkan has no input assembler
// flag; it is checked against the pipeline's input layout instead.
type rootSignature struct {
	dev     *Device
	layout  vk.PipelineLayout
	allowIA bool
}

func (r *rootSignature) Release() {
	if r.layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(r.dev.handle, r.layout, nil)
		r.layout = vk.NullPipelineLayout
	}
}

func (d *Device) CreateRootSignature(desc hal.RootSignatureDesc) (hal.RootSignature, error) {
	rs := &rootSignature{dev: d, allowIA: desc.AllowInputAssemblerInputLayout}
	ret := vk.CreatePipelineLayout(d.handle, &vk.PipelineLayoutCreateInfo{
		SType: vk.StructureTypePipelineLayoutCreateInfo,
	}, nil, &rs.layout)
	if isError(ret) {
		return nil, errors.Wrap(newError(ret), "create pipeline layout")
	}
	return rs, nil
}

type pipelineState struct {
	dev      *Device
	pipeline vk.Pipeline
	rootSig  *rootSignature
	stride   int
}

func (p *pipelineState) Release() {
	if p.pipeline != vk.NullPipeline {
		vk.DestroyPipeline(p.dev.handle, p.pipeline, nil)
		p.pipeline = vk.NullPipeline
	}
}

func (d *Device) loadShaderModule(code []uint32) (vk.ShaderModule, error) {
	if len(code) == 0 || code[0] != spirvMagic {
		return vk.NullShaderModule, errors.Wrap(hal.ErrInvalidState, "shader is not SPIR-V")
	}
	var module vk.ShaderModule
	ret := vk.CreateShaderModule(d.handle, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}, nil, &module)
	if isError(ret) {
		return vk.NullShaderModule, errors.Wrap(newError(ret), "create shader module")
	}
	return module, nil
}

// vertexInput builds one interleaved binding from the input layout. The
// stride is the end of the furthest element; locations follow element order.
func vertexInput(layout []hal.InputElementDesc) ([]vk.VertexInputAttributeDescription, int, error) {
	attrs := make([]vk.VertexInputAttributeDescription, 0, len(layout))
	stride := 0
	for i, e := range layout {
		if e.InputSlot != 0 {
			return nil, 0, errors.Wrapf(hal.ErrUnsupported, "input slot %d", e.InputSlot)
		}
		format, err := vkFormat(e.Format)
		if err != nil || e.Format.Size() < 8 {
			return nil, 0, errors.Wrapf(hal.ErrUnsupported, "vertex format %d for %s", e.Format, e.SemanticName)
		}
		attrs = append(attrs, vk.VertexInputAttributeDescription{
			Location: uint32(i),
			Binding:  0,
			Format:   format,
			Offset:   uint32(e.ByteOffset),
		})
		if end := e.ByteOffset + e.Format.Size(); end > stride {
			stride = end
		}
	}
	return attrs, stride, nil
}

func cullMode(m hal.CullMode) vk.CullModeFlags {
	switch m {
	case hal.CullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case hal.CullModeBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	}
	return vk.CullModeFlags(vk.CullModeNone)
}

// CreateGraphicsPipelineState builds a pipeline against the cached render
// pass for the render target format, with dynamic viewport and scissor.
func (d *Device) CreateGraphicsPipelineState(desc hal.GraphicsPipelineStateDesc) (hal.PipelineState, error) {
	rs, ok := desc.RootSignature.(*rootSignature)
	if !ok {
		return nil, errors.Wrap(hal.ErrInvalidState, "pipeline needs a root signature from this device")
	}
	if len(desc.InputLayout) > 0 && !rs.allowIA {
		return nil, errors.Wrap(hal.ErrInvalidState, "root signature does not allow an input layout")
	}
	if len(desc.RTVFormats) != 1 {
		return nil, errors.Wrapf(hal.ErrUnsupported, "%d render targets", len(desc.RTVFormats))
	}
	if desc.PrimitiveTopology != hal.PrimitiveTopologyTriangleList {
		return nil, errors.Wrap(hal.ErrUnsupported, "only triangle lists")
	}
	if desc.DepthEnable || desc.StencilEnable {
		return nil, errors.Wrap(hal.ErrUnsupported, "no depth-stencil attachment")
	}
	if desc.SampleCount > 1 {
		return nil, errors.Wrap(hal.ErrUnsupported, "multisampling")
	}
	rtFormat, err := vkFormat(desc.RTVFormats[0])
	if err != nil {
		return nil, err
	}
	pass, err := d.renderPass(rtFormat)
	if err != nil {
		return nil, err
	}
	attrs, stride, err := vertexInput(desc.InputLayout)
	if err != nil {
		return nil, err
	}

	vs, err := d.loadShaderModule(desc.VS.Code)
	if err != nil {
		return nil, errors.Wrap(err, "vertex shader")
	}
	defer vk.DestroyShaderModule(d.handle, vs, nil)
	ps, err := d.loadShaderModule(desc.PS.Code)
	if err != nil {
		return nil, errors.Wrap(err, "pixel shader")
	}
	defer vk.DestroyShaderModule(d.handle, ps, nil)

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: vs,
			PName:  safeString(desc.VS.EntryPoint),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: ps,
			PName:  safeString(desc.PS.EntryPoint),
		},
	}

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if len(attrs) > 0 {
		vertexInputInfo.VertexBindingDescriptionCount = 1
		vertexInputInfo.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    uint32(stride),
			InputRate: vk.VertexInputRateVertex,
		}}
		vertexInputInfo.VertexAttributeDescriptionCount = uint32(len(attrs))
		vertexInputInfo.PVertexAttributeDescriptions = attrs
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	polygonMode := vk.PolygonModeFill
	if desc.Rasterizer.FillMode == hal.FillModeWireframe {
		polygonMode = vk.PolygonModeLine
	}
	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: polygonMode,
		CullMode:    cullMode(desc.Rasterizer.CullMode),
		// The viewport is flipped, so framebuffer winding matches a
		// top-left origin.
		FrontFace: vk.FrontFaceClockwise,
		LineWidth: 1.0,
	}
	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
		PSampleMask:          []vk.SampleMask{vk.SampleMask(desc.SampleMask)},
	}

	blend := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit,
		),
		BlendEnable:         vk.False,
		SrcColorBlendFactor: vk.BlendFactorOne,
		DstColorBlendFactor: vk.BlendFactorZero,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorOne,
		DstAlphaBlendFactor: vk.BlendFactorZero,
		AlphaBlendOp:        vk.BlendOpAdd,
	}
	if desc.Blend.BlendEnable {
		blend.BlendEnable = vk.True
		blend.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		blend.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
	}
	colorBlending := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{blend},
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	pipelineInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PColorBlendState:    &colorBlending,
		PDynamicState:       &dynamicState,
		Layout:              rs.layout,
		RenderPass:          pass,
		Subpass:             0,
		BasePipelineIndex:   -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	ret := vk.CreateGraphicsPipelines(d.handle, vk.PipelineCache(vk.NullHandle), 1,
		[]vk.GraphicsPipelineCreateInfo{pipelineInfo}, nil, pipelines)
	if isError(ret) {
		return nil, errors.Wrap(newError(ret), "create graphics pipeline")
	}
	return &pipelineState{dev: d, pipeline: pipelines[0], rootSig: rs, stride: stride}, nil
}
