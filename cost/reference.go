package cost

// Reference32Channels is the measured relative layer cost of the 32-channel
// style network after graph preparation (40 layers). The leading zero
// entries are constant and reshape layers that cost nothing on device.
var Reference32Channels = []float64{
	0, 0, 0, 0, 0,
	0.021941, 0.017204, 0.036529, 0.009227, 0.042545,
	0.009238, 0.042679, 0.009394, 0.011978, 0.042437,
	0.009405, 0.042346, 0.009383, 0.011913, 0.042405,
	0.009378, 0.042512, 0.009330, 0.011924, 0.042443,
	0.009388, 0.042427, 0.009319, 0.011907, 0.042427,
	0.009383, 0.042448, 0.009405, 0.011994, 0.011854,
	0.099505, 0.017209, 0.024267, 0.171338, 0.012918,
}
