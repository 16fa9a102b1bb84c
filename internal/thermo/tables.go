package thermo

// NIST ITS-90 thermocouple reference coefficients. Forward segments are in °C
// producing mV; inverse segments are in mV producing °C.
var tables = map[Type]table{
	TypeK: {
		forward: []segment{
			{lo: -270, hi: 0, coef: []float64{
				0,
				0.394501280250e-01,
				0.236223735980e-04,
				-0.328589067840e-06,
				-0.499048287770e-08,
				-0.675090591730e-10,
				-0.574103274280e-12,
				-0.310888728940e-14,
				-0.104516093650e-16,
				-0.198892668780e-19,
				-0.163226974860e-22,
			}},
			{lo: 0, hi: 1372, coef: []float64{
				-0.176004136860e-01,
				0.389212049750e-01,
				0.185587700320e-04,
				-0.994575928740e-07,
				0.318409457190e-09,
				-0.560728448890e-12,
				0.560750590590e-15,
				-0.320207200030e-18,
				0.971511471520e-22,
				-0.121047212750e-25,
			}},
		},
		expo: &[3]float64{0.118597600000e+00, -0.118343200000e-03, 0.126968600000e+03},
		inverse: []segment{
			{lo: -5.891, hi: 0, coef: []float64{
				0, 2.5173462e+01, -1.1662878e+00, -1.0833638e+00, -8.9773540e-01,
				-3.7342377e-01, -8.6632643e-02, -1.0450598e-02, -5.1920577e-04,
			}},
			{lo: 0, hi: 20.644, coef: []float64{
				0, 2.508355e+01, 7.860106e-02, -2.503131e-01, 8.315270e-02,
				-1.228034e-02, 9.804036e-04, -4.413030e-05, 1.057734e-06, -1.052755e-08,
			}},
			{lo: 20.644, hi: 54.886, coef: []float64{
				-1.318058e+02, 4.830222e+01, -1.646031e+00, 5.464731e-02,
				-9.650715e-04, 8.802193e-06, -3.110810e-08,
			}},
		},
	},
	TypeJ: {
		forward: []segment{
			{lo: -210, hi: 760, coef: []float64{
				0,
				0.503811878150e-01,
				0.304758369300e-04,
				-0.856810657200e-07,
				0.132281952950e-09,
				-0.170529583370e-12,
				0.209480906970e-15,
				-0.125383953360e-18,
				0.156317256970e-22,
			}},
		},
		inverse: []segment{
			{lo: -8.095, hi: 0, coef: []float64{
				0, 1.9528268e+01, -1.2286185e+00, -1.0752178e+00, -5.9086933e-01,
				-1.7256713e-01, -2.8131513e-02, -2.3963370e-03, -8.3823321e-05,
			}},
			{lo: 0, hi: 42.919, coef: []float64{
				0, 1.978425e+01, -2.001204e-01, 1.036969e-02, -2.549687e-04,
				3.585153e-06, -5.344285e-08, 5.099890e-10,
			}},
			{lo: 42.919, hi: 69.553, coef: []float64{
				-3.11358187e+03, 3.00543684e+02, -9.94773230e+00, 1.70276630e-01,
				-1.43033468e-03, 4.73886084e-06,
			}},
		},
	},
	TypeT: {
		forward: []segment{
			{lo: -270, hi: 0, coef: []float64{
				0,
				0.387481063640e-01,
				0.441944343470e-04,
				0.118443231050e-06,
				0.200329735540e-07,
				0.901380195590e-09,
				0.226511565930e-10,
				0.360711542050e-12,
				0.384939398830e-14,
				0.282135219250e-16,
				0.142515947790e-18,
				0.487686622860e-21,
				0.107955392700e-23,
				0.139450270620e-26,
				0.797951539270e-30,
			}},
			{lo: 0, hi: 400, coef: []float64{
				0,
				0.387481063640e-01,
				0.332922278800e-04,
				0.206182434040e-06,
				-0.218822568460e-08,
				0.109968809280e-10,
				-0.308157587720e-13,
				0.454791352900e-16,
				-0.275129016730e-19,
			}},
		},
		inverse: []segment{
			{lo: -5.603, hi: 0, coef: []float64{
				0, 2.5949192e+01, -2.1316967e-01, 7.9018692e-01, 4.2527777e-01,
				1.3304473e-01, 2.0241446e-02, 1.2668171e-03,
			}},
			{lo: 0, hi: 20.872, coef: []float64{
				0, 2.592800e+01, -7.602961e-01, 4.637791e-02, -2.165394e-03,
				6.048144e-05, -7.293422e-07,
			}},
		},
	},
	TypeE: {
		forward: []segment{
			{lo: -270, hi: 0, coef: []float64{
				0,
				0.586655087080e-01,
				0.454109771240e-04,
				-0.779980486860e-06,
				-0.258001608430e-07,
				-0.594525830570e-09,
				-0.932140586670e-11,
				-0.102876055340e-12,
				-0.803701236210e-15,
				-0.439794973910e-17,
				-0.164147763550e-19,
				-0.396736195160e-22,
				-0.558273287210e-25,
				-0.346578420130e-28,
			}},
			{lo: 0, hi: 1000, coef: []float64{
				0,
				0.586655087100e-01,
				0.450322755820e-04,
				0.289084072120e-07,
				-0.330568966520e-09,
				0.650244032700e-12,
				-0.191974955040e-15,
				-0.125366004970e-17,
				0.214892175690e-20,
				-0.143880417820e-23,
				0.359608994810e-27,
			}},
		},
		inverse: []segment{
			{lo: -8.825, hi: 0, coef: []float64{
				0, 1.6977288e+01, -4.3514970e-01, -1.5859697e-01, -9.2502871e-02,
				-2.6084314e-02, -4.1360199e-03, -3.4034030e-04, -1.1564890e-05,
			}},
			{lo: 0, hi: 76.373, coef: []float64{
				0, 1.7057035e+01, -2.3301759e-01, 6.5435585e-03, -7.3562749e-05,
				-1.7896001e-06, 8.4036165e-08, -1.3735879e-09, 1.0629823e-11, -3.2447087e-14,
			}},
		},
	},
}
