// Package hellotriangle renders a single static triangle through an
// explicit GPU API.
//
// A Controller selects a hardware adapter, creates a device, a direct queue,
// a two-image swap chain with one render target view per image, a pipeline
// state compiled from shaders/shaders.wgsl and a vertex buffer uploaded
// through a staging copy. Every paint message records one command list that
// clears the back buffer and draws the triangle, submits it, presents, and
// blocks on a fence until the GPU has finished. There is never more than one
// frame in flight.
//
// The GPU is reached through package hal. Package vkhal implements it on
// Vulkan and GLFW, package simgpu on a simulated GPU.
package hellotriangle
